// Command benchmark drives the common/benchmark workload suite against
// one or all three kvcore storage engines.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/intellect4all/kvcore/common"
	"github.com/intellect4all/kvcore/common/benchmark"
	"github.com/intellect4all/kvcore/hashstore"
	"github.com/intellect4all/kvcore/internal/external"
	"github.com/intellect4all/kvcore/lsmstore"
)

func main() {
	quick := flag.Bool("quick", false, "Run quick benchmarks (shorter duration)")
	workload := flag.String("workload", "all", "Workload to run (all, write-heavy-uniform, read-heavy-zipfian, balanced-uniform, write-only-sequential)")
	duration := flag.Duration("duration", 60*time.Second, "Duration for each benchmark")
	concurrency := flag.Int("concurrency", 8, "Number of concurrent workers")
	engine := flag.String("engine", "compare", "Engine to benchmark: hash, lsm, external, or compare")
	flag.Parse()

	fmt.Println("kvcore Benchmark Suite")
	fmt.Println("================================")
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Mode: %s\n\n", *engine)

	var configs []benchmark.Config
	if *quick {
		configs = benchmark.QuickWorkloads()
	} else {
		configs = benchmark.StandardWorkloads()
	}

	if flag.Lookup("duration").Value.String() != flag.Lookup("duration").DefValue {
		for i := range configs {
			configs[i].Duration = *duration
		}
	}
	if flag.Lookup("concurrency").Value.String() != flag.Lookup("concurrency").DefValue {
		for i := range configs {
			configs[i].Concurrency = *concurrency
		}
	}

	if *workload != "all" {
		filtered := make([]benchmark.Config, 0)
		for _, config := range configs {
			if config.Name == *workload {
				filtered = append(filtered, config)
			}
		}
		if len(filtered) == 0 {
			fmt.Printf("Unknown workload: %s\n", *workload)
			os.Exit(1)
		}
		configs = filtered
	}

	switch *engine {
	case "hash":
		runSingle("HashStore", newHashStore, configs)
	case "lsm":
		runSingle("LSMStore", newLSMStore, configs)
	case "external":
		runSingle("External", newExternalStore, configs)
	case "compare":
		runComparison(configs)
	default:
		fmt.Printf("Unknown engine: %s (must be hash, lsm, external, or compare)\n", *engine)
		os.Exit(1)
	}
}

func newHashStore(dir string) (common.StorageEngine, error) {
	cfg := hashstore.DefaultConfig(dir)
	cfg.SyncOnWrite = false
	return hashstore.Open(cfg)
}

func newLSMStore(dir string) (common.StorageEngine, error) {
	return lsmstore.Open(lsmstore.DefaultConfig(dir))
}

func newExternalStore(dir string) (common.StorageEngine, error) {
	cfg := external.DefaultConfig(dir)
	cfg.NoSync = true
	return external.Open(cfg)
}

func runSingle(name string, open func(string) (common.StorageEngine, error), configs []benchmark.Config) {
	fmt.Printf("=== %s Benchmark ===\n\n", name)

	dir, err := os.MkdirTemp("", "kvcore-benchmark-*")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	eng, err := open(dir)
	if err != nil {
		fmt.Printf("Failed to open %s: %v\n", name, err)
		os.Exit(1)
	}
	defer eng.Close()

	results := make([]*benchmark.Result, 0, len(configs))
	for _, cfg := range configs {
		fmt.Printf("\n=== Running: %s ===\n", cfg.Name)
		bench := benchmark.NewBenchmark(eng, cfg)
		result, err := bench.Run()
		if err != nil {
			fmt.Printf("Benchmark failed: %v\n", err)
			continue
		}
		results = append(results, result)
		printResult(result)
	}
	printSummaryTable(results)
}

func runComparison(configs []benchmark.Config) {
	fmt.Println("=== Comparing HashStore vs. LSMStore vs. External ===")

	engines := make(map[string]common.StorageEngine)
	cleanups := make([]func(), 0, 3)
	defer func() {
		for _, c := range cleanups {
			c()
		}
	}()

	builders := map[string]func(string) (common.StorageEngine, error){
		"HashStore": newHashStore,
		"LSMStore":  newLSMStore,
		"External":  newExternalStore,
	}

	for name, open := range builders {
		dir, err := os.MkdirTemp("", "kvcore-benchmark-*")
		if err != nil {
			fmt.Printf("Failed to create temp dir: %v\n", err)
			os.Exit(1)
		}
		cleanups = append(cleanups, func() { os.RemoveAll(dir) })

		eng, err := open(dir)
		if err != nil {
			fmt.Printf("Failed to open %s: %v\n", name, err)
			os.Exit(1)
		}
		cleanups = append(cleanups, func() { eng.Close() })

		engines[name] = eng
	}

	suite := benchmark.NewComparisonSuite()
	suite.SetWorkloads(configs)
	results := suite.RunComparison(engines)

	fmt.Println("\n================================================================================")
	fmt.Println("COMPARISON RESULTS")
	fmt.Println("================================================================================")
	suite.PrintComparisonTable(results)
}

func printResult(r *benchmark.Result) {
	fmt.Printf("\n--- Results ---\n")
	fmt.Printf("Throughput: %.0f ops/sec\n", r.OpsPerSec)
	fmt.Printf("Total Ops: %d (writes: %d, reads: %d)\n", r.TotalOps, r.WriteOps, r.ReadOps)

	if r.WriteOps > 0 {
		fmt.Printf("\nWrite Latency:\n")
		fmt.Printf("  Min:  %8s\n", r.WriteLatency.Min)
		fmt.Printf("  Mean: %8s\n", r.WriteLatency.Mean)
		fmt.Printf("  P50:  %8s\n", r.WriteLatency.P50)
		fmt.Printf("  P95:  %8s\n", r.WriteLatency.P95)
		fmt.Printf("  P99:  %8s\n", r.WriteLatency.P99)
		fmt.Printf("  P999: %8s\n", r.WriteLatency.P999)
		fmt.Printf("  Max:  %8s\n", r.WriteLatency.Max)
	}

	if r.ReadOps > 0 {
		fmt.Printf("\nRead Latency:\n")
		fmt.Printf("  Min:  %8s\n", r.ReadLatency.Min)
		fmt.Printf("  Mean: %8s\n", r.ReadLatency.Mean)
		fmt.Printf("  P50:  %8s\n", r.ReadLatency.P50)
		fmt.Printf("  P95:  %8s\n", r.ReadLatency.P95)
		fmt.Printf("  P99:  %8s\n", r.ReadLatency.P99)
		fmt.Printf("  P999: %8s\n", r.ReadLatency.P999)
		fmt.Printf("  Max:  %8s\n", r.ReadLatency.Max)
	}

	fmt.Printf("\nAmplification:\n")
	fmt.Printf("  Write: %.2fx\n", r.WriteAmplification)
	fmt.Printf("  Space: %.2fx\n", r.SpaceAmplification)
	fmt.Printf("\nDisk Usage: %.1f MB\n", r.TotalDiskMB)
}

func printSummaryTable(results []*benchmark.Result) {
	if len(results) == 0 {
		return
	}

	fmt.Println("\n================================================================================")
	fmt.Println("BENCHMARK SUMMARY")
	fmt.Println("================================================================================")

	fmt.Printf("\n%-25s %12s %12s %12s %12s\n", "Workload", "Throughput", "Write P99", "Read P99", "Write Amp")
	fmt.Println("--------------------------------------------------------------------------------")

	for _, r := range results {
		writeP99 := "N/A"
		if r.WriteOps > 0 {
			writeP99 = r.WriteLatency.P99.String()
		}
		readP99 := "N/A"
		if r.ReadOps > 0 {
			readP99 = r.ReadLatency.P99.String()
		}
		fmt.Printf("%-25s %10.0f/s %12s %12s %11.2fx\n", r.Config.Name, r.OpsPerSec, writeP99, readP99, r.WriteAmplification)
	}
}
