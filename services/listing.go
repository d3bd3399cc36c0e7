package services

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names the extraction tool writes next to its chapter configuration.
const (
	titlesListing  = "articles.txt"
	authorsListing = "authors.txt"
)

// ErrListingMissing is returned when one of the generated text listings
// is absent from the extraction output.
var ErrListingMissing = errors.New("extraction listing missing")

// CountMismatchError reports title and author listings of different
// lengths. This aborts the whole batch: no articles are created.
type CountMismatchError struct {
	Titles  int
	Authors int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("listing count mismatch: %d titles vs %d authors", e.Titles, e.Authors)
}

// Descriptor is one extracted chapter prior to becoming an article row.
// Index is 1-based pairing position and becomes the article number.
type Descriptor struct {
	Index  int
	Title  string
	Author string
}

// ReadListings pairs the titles and authors listings from the extraction
// config directory into an ordered descriptor sequence.
func ReadListings(configDir string) ([]Descriptor, error) {
	titles, err := readListing(filepath.Join(configDir, titlesListing))
	if err != nil {
		return nil, err
	}
	authors, err := readListing(filepath.Join(configDir, authorsListing))
	if err != nil {
		return nil, err
	}

	if len(titles) != len(authors) {
		return nil, &CountMismatchError{Titles: len(titles), Authors: len(authors)}
	}

	descriptors := make([]Descriptor, 0, len(titles))
	for i, title := range titles {
		descriptors = append(descriptors, Descriptor{
			Index:  i + 1,
			Title:  title,
			Author: authors[i],
		})
	}
	return descriptors, nil
}

// readListing reads a newline-separated listing, trimming whitespace and
// skipping blank lines, preserving order.
func readListing(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrListingMissing, filepath.Base(path))
		}
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
