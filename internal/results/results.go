// Package results locates the results artifact a test script leaves behind
// and pulls a test count out of it.
package results

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	ExecutionDir    = "execution"
	ResultsFileName = "testResults.xml"
)

// assemblyMarker opens a per-assembly summary record.
const assemblyMarker = "<assembly "

var totalPattern = regexp.MustCompile(`total="(\d+)"`)

// Path returns where the results artifact is expected under workingDir.
func Path(workingDir string) string {
	return filepath.Join(workingDir, ExecutionDir, ResultsFileName)
}

// Locate reports the expected artifact path and whether a regular file
// exists there.
func Locate(workingDir string) (string, bool) {
	path := Path(workingDir)
	return path, exists(path)
}

// CountTests returns the total attribute of the first assembly line in the
// file at path. It does not parse XML: anything that is not the first
// assembly line is ignored, and a missing or malformed attribute yields 0.
// Only failing to open or read the file is an error.
func CountTests(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open results: %w", err)
	}
	defer file.Close()

	return CountTestsReader(file)
}

func CountTestsReader(r io.Reader) (int, error) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return 0, fmt.Errorf("read results: %w", err)
		}
		if strings.Contains(line, assemblyMarker) {
			return totalFromLine(line), nil
		}
		if err == io.EOF {
			return 0, nil
		}
	}
}

func totalFromLine(line string) int {
	match := totalPattern.FindStringSubmatch(line)
	if match == nil {
		return 0
	}
	total, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return total
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
