package bench

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cachekit/stripekv/cmd/util"
	"github.com/cachekit/stripekv/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for stripekv stores",
		Long:    "Runs a series of benchmark workloads against a locally constructed store and prints per-operation timings. Use the store flags to benchmark different backends and stripe counts.",
		RunE:    run,
		PreRunE: processBenchConfig,
	}
	benchKeyPrefix        = "__bench"
	benchLargeValueSizeKB = 100
	benchNumThreads       = 10
	benchKeySpread        = 100
	benchSkip             = make([]string, 0)

	benchStore store.IStore
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// add flags
	key := "skip"
	BenchCmd.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. store,load)"))
	key = "threads"
	BenchCmd.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	BenchCmd.PersistentFlags().Int(key, 100, util.WrapString("How large the value for the store-large test should be (in KB)"))
	key = "keys"
	BenchCmd.PersistentFlags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))

	// store construction flags (backend, stripes, timeouts)
	util.SetupStoreFlags(BenchCmd)
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	benchLargeValueSizeKB = viper.GetInt("large-value-size")
	benchKeySpread = viper.GetInt("keys")
	benchNumThreads = viper.GetInt("threads")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	var err error
	benchStore, err = util.NewLocalStore()
	return err
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for stripekv stores")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("Backend: %s\n", viper.GetString("backend"))
	fmt.Printf("Stripes: %d\n", benchStore.TotalLockCount())
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Printf("Keys: %d\n", benchKeySpread)
	fmt.Println()

	fmt.Println("starting benchmarks...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	storeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("store") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("store")

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := benchStore.Remove(k); err != nil {
					log.Printf("(store) - error removing key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := benchStore.Store(store.Entry{Key: getKey(counter), Value: []byte("test")}); err != nil {
					log.Printf("(store) - error storing key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["store"] = storeResult
	printResult("store", storeResult)

	storeLargeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("store-large") {
			return
		}

		// prepare large value
		largeValue := make([]byte, benchLargeValueSizeKB*1024)

		// prepare keys
		getKey, iter := getKeys("store-large")

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := benchStore.Remove(k); err != nil {
					log.Printf("(store-large) - error removing key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if err := benchStore.Store(store.Entry{Key: getKey(counter), Value: largeValue}); err != nil {
					log.Printf("(store-large) - error storing key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["store-large"] = storeLargeResult
	printResult("store-large", storeLargeResult)

	loadResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("load") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("load")

		// fill the store concurrently
		if err := fill(iter); err != nil {
			b.Fatalf("(load) - error filling store: %v", err)
		}

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := benchStore.Remove(k); err != nil {
					log.Printf("(load) - error removing key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, _, err := benchStore.Load(getKey(counter)); err != nil {
					log.Printf("(load) - error loading key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["load"] = loadResult
	printResult("load", loadResult)

	removeResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("remove") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("remove")

		// fill the store concurrently
		if err := fill(iter); err != nil {
			b.Fatalf("(remove) - error filling store: %v", err)
		}

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				if _, err := benchStore.Remove(getKey(counter)); err != nil {
					log.Printf("(remove) - error removing key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["remove"] = removeResult
	printResult("remove", removeResult)

	loadAllResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("load-all") {
			return
		}

		// prepare keys
		_, iter := getKeys("load-all")

		// fill the store concurrently
		if err := fill(iter); err != nil {
			b.Fatalf("(load-all) - error filling store: %v", err)
		}

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := benchStore.Remove(k); err != nil {
					log.Printf("(load-all) - error removing key: %v\n", err)
				}
			})
		})

		b.ResetTimer()

		// load-all holds the global lock, parallelism would only measure contention
		for i := 0; i < b.N; i++ {
			if _, err := benchStore.LoadAll(); err != nil {
				log.Printf("(load-all) - error loading entries: %v\n", err)
			}
		}
	})

	results["load-all"] = loadAllResult
	printResult("load-all", loadAllResult)

	mixedResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("mixed")

		// fill the store concurrently
		if err := fill(iter); err != nil {
			b.Fatalf("(mixed) - error filling store: %v", err)
		}

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := benchStore.Remove(k); err != nil {
					log.Printf("(mixed) - error removing key: %v\n", err)
				}
			})
		})

		b.SetParallelism(benchNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				var err error
				switch counter % 3 {
				case 0: // store
					err = benchStore.Store(store.Entry{Key: key, Value: []byte("test")})
				case 1: // load
					_, _, err = benchStore.Load(key)
				case 2: // remove
					_, err = benchStore.Remove(key)
				}

				if err != nil {
					log.Printf("(mixed) - error performing operation (%d): %v\n", counter%3, err)
				}
				counter++
			}
		})
	})

	results["mixed"] = mixedResult
	printResult("mixed", mixedResult)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// fill stores a value for every key, spread over a bounded number of goroutines
func fill(iter func(func(string))) error {
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	iter(func(k string) {
		g.Go(func() error {
			return benchStore.Store(store.Entry{Key: k, Value: []byte("test")})
		})
	})
	return g.Wait()
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, benchKeySpread)
	for i := 0; i < benchKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", benchKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%benchKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Backend", "Stripes", "Threads", "LargeValueSizeKB", "KeysCount",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			viper.GetString("backend"),
			strconv.Itoa(viper.GetInt("stripes")),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchLargeValueSizeKB),
			strconv.Itoa(benchKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
