package worker

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Partition splits items greedily, in input order, into batches of at most
// maxItems whose summed cost stays within maxCost. A batch closes when it is
// full or the next item would push it over budget. An item whose cost alone
// exceeds maxCost gets a batch of its own. Non-positive limits are ignored.
func Partition[T any](items []T, maxItems, maxCost int, cost func(T) int) [][]T {
	if len(items) == 0 {
		return nil
	}

	var (
		batches [][]T
		current []T
		used    int
	)
	for _, it := range items {
		c := 0
		if cost != nil {
			c = cost(it)
		}
		full := maxItems > 0 && len(current) >= maxItems
		over := maxCost > 0 && len(current) > 0 && used+c > maxCost
		if full || over {
			batches = append(batches, current)
			current, used = nil, 0
		}
		current = append(current, it)
		used += c
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// ReadURLsFromFile reads URLs from a file (one per line), skipping blanks,
// comments and duplicates
func ReadURLsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			urls = append(urls, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return urls, nil
}
