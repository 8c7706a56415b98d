// Command vma-dump exercises the allocator against an in-memory RHI backend
// and prints a JSON statistics dump. It has no real GPU dependency — it
// stands in for the teacher's headless cmd/compute-copy demo, trading a real
// Vulkan device for internal/fakerhi so the allocator's decision tree
// (committed vs. placed, pooling, defragmentation) can be inspected without
// one.
package main

import (
	"fmt"
	"os"

	"github.com/gogpu/vma/defrag"
	"github.com/gogpu/vma/gpualloc"
	"github.com/gogpu/vma/internal/fakerhi"
	"github.com/gogpu/vma/rhi"
)

func main() {
	if err := run(); err != nil {
		fmt.Printf("FATAL: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fmt.Println("=== vma-dump ===")
	fmt.Println()

	fmt.Print("1. Creating allocator against an in-memory backend... ")
	backend := fakerhi.New()
	allocator, err := gpualloc.NewAllocator(gpualloc.DefaultAllocatorDesc(rhi.Device(1), backend))
	if err != nil {
		return fmt.Errorf("NewAllocator: %w", err)
	}
	fmt.Println("OK")

	fmt.Print("2. Creating a custom pool for device-local buffers... ")
	pool, err := allocator.CreatePool(gpualloc.PoolDesc{
		HeapType:      rhi.HeapTypeDeviceLocal,
		BlockSize:     4 * 1024 * 1024,
		MinBlockCount: 1,
		Name:          "scratch-pool",
	})
	if err != nil {
		return fmt.Errorf("CreatePool: %w", err)
	}
	fmt.Println("OK")

	fmt.Print("3. Allocating a handful of placed buffers... ")
	allocs, err := createBuffers(allocator, pool, 12)
	if err != nil {
		return err
	}
	fmt.Printf("OK (%d allocations)\n", len(allocs))

	fmt.Print("4. Releasing every other allocation to fragment the pool... ")
	fragmented := fragment(allocs)
	fmt.Printf("OK (%d released)\n", len(allocs)-len(fragmented))
	allocs = fragmented

	fmt.Print("5. Running one defragmentation pass... ")
	moved, err := defragmentOnce(pool)
	if err != nil {
		return fmt.Errorf("defragmentOnce: %w", err)
	}
	fmt.Printf("OK (%d moves committed)\n", moved)

	fmt.Println()
	fmt.Println("Budget:")
	local, nonLocal := allocator.GetBudget()
	fmt.Printf("  local:     usage=%d budget=%d\n", local.UsageBytes, local.BudgetBytes)
	fmt.Printf("  non-local: usage=%d budget=%d\n", nonLocal.UsageBytes, nonLocal.BudgetBytes)

	fmt.Println()
	fmt.Println("Stats JSON:")
	fmt.Println(allocator.BuildStatsString(true))

	for _, a := range allocs {
		a.ReleaseThis()
	}
	pool.ReleaseThis()
	allocator.ReleaseThis()
	return nil
}

// createBuffers allocates n placed buffers large enough to skip the
// small-buffer committed preference, so each one actually exercises the
// pool's block vector.
func createBuffers(allocator *gpualloc.Allocator, pool *gpualloc.Pool, n int) ([]*gpualloc.Allocation, error) {
	const width = gpualloc.DefaultPreferredBlockSize / 64 // well above the small-buffer threshold

	allocs := make([]*gpualloc.Allocation, 0, n)
	for i := 0; i < n; i++ {
		desc := gpualloc.AllocationDesc{
			HeapType:   rhi.HeapTypeDeviceLocal,
			CustomPool: pool,
			Name:       fmt.Sprintf("buffer-%d", i),
		}
		resDesc := rhi.ResourceDesc{
			Dimension: rhi.ResourceDimensionBuffer,
			Width:     width,
		}
		alloc, _, err := allocator.CreateResource(desc, resDesc, nil)
		if err != nil {
			for _, a := range allocs {
				a.ReleaseThis()
			}
			return nil, fmt.Errorf("CreateResource(%d): %w", i, err)
		}
		allocs = append(allocs, alloc)
	}
	return allocs, nil
}

// fragment releases every other allocation and returns the survivors, so
// the pool's blocks end up with scattered free ranges worth defragmenting.
func fragment(allocs []*gpualloc.Allocation) []*gpualloc.Allocation {
	survivors := make([]*gpualloc.Allocation, 0, len(allocs)/2+1)
	for i, a := range allocs {
		if i%2 == 0 {
			survivors = append(survivors, a)
			continue
		}
		a.ReleaseThis()
	}
	return survivors
}

// defragmentOnce runs exactly one BeginPass/EndPass round with the Balanced
// algorithm, accepting every proposed move (the default Operation is Copy),
// and reports how many moves were committed.
func defragmentOnce(pool *gpualloc.Pool) (int, error) {
	ctx, err := defrag.Begin(defrag.Desc{
		Pools:     []*gpualloc.Pool{pool},
		Algorithm: defrag.AlgorithmBalanced,
	})
	if err != nil {
		return 0, fmt.Errorf("Begin: %w", err)
	}

	moves, err := ctx.BeginPass()
	if err != nil {
		return 0, fmt.Errorf("BeginPass: %w", err)
	}
	if _, err := ctx.EndPass(moves); err != nil {
		return 0, fmt.Errorf("EndPass: %w", err)
	}
	return len(moves), nil
}
