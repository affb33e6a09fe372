package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seqfold/snpbatch/internal/cache"
	"github.com/seqfold/snpbatch/internal/sequence"
)

func newVerifyCmd() *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Inspect the cache and self-test key derivation",
		Long: `Verify lists the contents of both cache namespaces, derives the
key for a known test sequence and probes that entries can be written,
read back and removed. Run it when cached results seem to be ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = runVerify(cacheDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default: cache.dir config key, else ~/.snpbatch/cache)")

	return cmd
}

func runVerify(cacheDir string) int {
	if cacheDir == "" {
		cacheDir = defaultCacheDir()
	}

	fmt.Println(rule)
	fmt.Println("Cache Verification")
	fmt.Println(rule)
	fmt.Println()
	fmt.Printf("Cache directory: %s\n\n", cacheDir)

	for _, ns := range []string{"dna", "model"} {
		if code := verifyNamespace(cacheDir, ns); code != ExitSuccess {
			return code
		}
	}
	if code := verifyDetection(cacheDir); code != ExitSuccess {
		return code
	}
	if code := verifyRoundTrip(cacheDir); code != ExitSuccess {
		return code
	}

	fmt.Println(rule)
	fmt.Println("Cache verification complete!")
	fmt.Println(rule)
	return ExitSuccess
}

// verifyNamespace reports entry count, total size and a sample of keys
// for one cache namespace.
func verifyNamespace(cacheDir, ns string) int {
	dir := filepath.Join(cacheDir, ns)

	fmt.Println(rule)
	fmt.Printf("Namespace: %s\n", ns)
	fmt.Println(rule)
	fmt.Println()

	if _, err := os.Stat(dir); err != nil {
		fmt.Printf("Directory does not exist: %s\n", dir)
		fmt.Println("It is created on first use.")
		fmt.Println()
		return ExitSuccess
	}
	fmt.Printf("Directory exists: %s\n", dir)

	store, err := cache.NewStore(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	entries, err := store.Entries()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}
	thousands.Printf("Total entries: %d\n", len(entries))
	fmt.Printf("Total size: %s\n", formatSize(total))
	fmt.Println()

	if len(entries) > 0 {
		fmt.Println("Sample of entries:")
		for i, e := range entries {
			if i == 5 {
				break
			}
			fmt.Printf("  %d. %s... (%s)\n", i+1, truncateKey(e.Key), formatSize(e.Size))
		}
		fmt.Println()
	}
	return ExitSuccess
}

// verifyDetection derives the key for a fixed test sequence and checks
// whether a prediction for it is present.
func verifyDetection(cacheDir string) int {
	fmt.Println(rule)
	fmt.Println("Cache Detection Test")
	fmt.Println(rule)
	fmt.Println()

	testSeq := strings.Repeat("ACGT", int(sequence.DefaultLength/4))
	key := cache.SequenceKey(testSeq)

	thousands.Printf("Test sequence length: %d\n", len(testSeq))
	fmt.Printf("Test sequence SHA256: %s\n", key)

	store, err := cache.NewStore(filepath.Join(cacheDir, "model"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	fmt.Printf("Prediction cached: %t\n", store.Exists(key))
	fmt.Println()
	return ExitSuccess
}

// verifyRoundTrip writes a probe entry, reads it back and removes it.
// The probe key is not hex, so it can never collide with a real entry.
func verifyRoundTrip(cacheDir string) int {
	fmt.Println(rule)
	fmt.Println("Read/Write Probe")
	fmt.Println(rule)
	fmt.Println()

	store, err := cache.NewStore(filepath.Join(cacheDir, "model"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}

	const probeKey = "selftest"
	payload := []byte("snpbatch cache probe")

	if err := store.Put(probeKey, payload); err != nil {
		fmt.Fprintf(os.Stderr, "Error: probe write failed: %v\n", err)
		return ExitError
	}
	fmt.Println("Probe entry written")

	got, err := store.Get(probeKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: probe read failed: %v\n", err)
		return ExitError
	}
	if !bytes.Equal(got, payload) {
		fmt.Fprintln(os.Stderr, "Error: probe payload mismatch after round trip")
		return ExitError
	}
	fmt.Println("Probe entry read back")

	if err := store.Delete(probeKey); err != nil {
		fmt.Fprintf(os.Stderr, "Error: probe delete failed: %v\n", err)
		return ExitError
	}
	if store.Exists(probeKey) {
		fmt.Fprintln(os.Stderr, "Error: probe entry still present after delete")
		return ExitError
	}
	fmt.Println("Probe entry removed")
	fmt.Println()
	return ExitSuccess
}

func truncateKey(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
