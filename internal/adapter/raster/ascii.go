package raster

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// readASCII parses an ESRI ASCII grid. Both corner and centre registration of
// the lower-left cell are accepted.
func readASCII(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64)
	var first string
	for sc.Scan() {
		word := sc.Text()
		if _, err := strconv.ParseFloat(word, 64); err == nil {
			first = word
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("header %q has no value", word)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", word, err)
		}
		header[strings.ToLower(word)] = v
	}

	g := &Grid{
		NCols: int(header["ncols"]),
		NRows: int(header["nrows"]),
	}
	cell, ok := header["cellsize"]
	if !ok {
		dx, okx := header["dx"]
		dy, oky := header["dy"]
		if !okx || !oky {
			return nil, fmt.Errorf("missing cellsize")
		}
		g.CellW, g.CellH = dx, dy
	} else {
		g.CellW, g.CellH = cell, cell
	}

	switch {
	case hasKey(header, "xllcorner"):
		g.XMin = header["xllcorner"]
	case hasKey(header, "xllcenter"):
		g.XMin = header["xllcenter"] - g.CellW/2
	default:
		return nil, fmt.Errorf("missing xllcorner")
	}
	var yMin float64
	switch {
	case hasKey(header, "yllcorner"):
		yMin = header["yllcorner"]
	case hasKey(header, "yllcenter"):
		yMin = header["yllcenter"] - g.CellH/2
	default:
		return nil, fmt.Errorf("missing yllcorner")
	}
	g.YMax = yMin + float64(g.NRows)*g.CellH
	g.noData, g.hasNoData = header["nodata_value"]

	if g.NCols > 0 && g.NRows > 0 {
		g.values = make([]float64, 0, g.NCols*g.NRows)
	}
	if first != "" {
		v, _ := strconv.ParseFloat(first, 64)
		g.values = append(g.values, v)
	}
	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", len(g.values), err)
		}
		g.values = append(g.values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func hasKey(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}
