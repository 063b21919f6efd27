package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// GOOSESource holds GOOSEdata.txt: one row per published GSE control block,
// each row a run of characters whose value at index s_value mod row_length
// selects the Boolean allData payload (spec.md §6).
type GOOSESource struct {
	rows []string
}

// LoadGOOSESource reads path, stripping whitespace from every line as the
// original's hand-rolled isspace erase did.
func LoadGOOSESource(path string) (*GOOSESource, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	rows := make([]string, len(lines))
	for i, line := range lines {
		rows[i] = strings.Map(func(r rune) rune {
			if strings.ContainsRune(" \t\n\v\f\r", r) {
				return -1
			}
			return r
		}, line)
	}
	return &GOOSESource{rows: rows}, nil
}

// Bit returns the allData Boolean value for the row-th control block at
// send cycle sValue.
func (s *GOOSESource) Bit(row, sValue int) (byte, error) {
	if row >= len(s.rows) {
		return 0, fmt.Errorf("GOOSEdata.txt has no row %d for this control block", row)
	}
	line := s.rows[row]
	if len(line) == 0 {
		return 0, fmt.Errorf("GOOSEdata.txt row %d is empty", row)
	}
	if line[sValue%len(line)] == '0' {
		return 0x00, nil
	}
	return 0x01, nil
}

// SVSource holds SVdata.txt: one row per published SV control block, each
// row a whitespace-separated run of decimal floats in groups of 16 (4
// voltages, 4 angles, 4 currents, 4 angles); a cycle consumes one group.
type SVSource struct {
	rows [][]float32
}

// LoadSVSource reads path and parses every row's fields as float32.
func LoadSVSource(path string) (*SVSource, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	rows := make([][]float32, len(lines))
	for i, line := range lines {
		fields := strings.Fields(line)
		values := make([]float32, len(fields))
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("SVdata.txt row %d field %d: %w", i, j, err)
			}
			values[j] = float32(v)
		}
		rows[i] = values
	}
	return &SVSource{rows: rows}, nil
}

// Samples returns the 16-float group for the row-th control block at send
// cycle sValue.
func (s *SVSource) Samples(row, sValue int) ([16]float32, error) {
	var out [16]float32
	if row >= len(s.rows) {
		return out, fmt.Errorf("SVdata.txt has no row %d for this control block", row)
	}
	values := s.rows[row]
	groups := len(values) / 16
	if groups == 0 {
		return out, fmt.Errorf("SVdata.txt row %d has fewer than 16 values", row)
	}
	start := (sValue % groups) * 16
	copy(out[:], values[start:start+16])
	return out, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}
