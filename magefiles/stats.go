//go:build mage

package main

import (
	"bufio"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Stats prints Go lines of code, split into production and test code, per
// top-level directory.
func Stats() error {
	prod := map[string]int{}
	tests := map[string]int{}

	err := filepath.Walk(".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path == "vendor" || path == ".git" || path == binaryDir || strings.HasPrefix(path, "_") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasPrefix(path, "magefiles") {
			return nil
		}
		count, countErr := countLines(path)
		if countErr != nil {
			return nil
		}
		group := strings.SplitN(filepath.ToSlash(filepath.Dir(path)), "/", 3)
		key := group[0]
		if len(group) > 1 {
			key = group[0] + "/" + group[1]
		}
		if strings.HasSuffix(path, "_test.go") {
			tests[key] += count
		} else {
			prod[key] += count
		}
		return nil
	})
	if err != nil {
		return err
	}

	var prodTotal, testTotal int
	keys := map[string]bool{}
	for k := range prod {
		keys[k] = true
	}
	for k := range tests {
		keys[k] = true
	}
	for _, k := range slices.Sorted(maps.Keys(keys)) {
		fmt.Printf("%-24s %6d prod %6d test\n", k, prod[k], tests[k])
		prodTotal += prod[k]
		testTotal += tests[k]
	}
	fmt.Printf("%-24s %6d prod %6d test\n", "total", prodTotal, testTotal)
	return nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}
