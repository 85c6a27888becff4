package raster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type bilHeader struct {
	nrows, ncols, nbands, nbits int
	pixelType                   string
	order                       binary.ByteOrder
	ulx, uly                    float64
	xdim, ydim                  float64
	noData                      float64
	hasNoData                   bool
}

// readBIL reads band 1 of an ESRI BIL raster. The .hdr next to the .bil supplies
// dimensions, sample type and georeferencing.
func readBIL(path string) (*Grid, error) {
	h, err := readHDR(strings.TrimSuffix(path, filepath.Ext(path)) + ".hdr")
	if err != nil {
		return nil, err
	}
	decode, err := sampleDecoder(h)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	size := h.nbits / 8
	n := h.nrows * h.ncols
	// BIL interleaves bands per row; band 1 is the first ncols samples of each row.
	rowBytes := h.ncols * size * h.nbands
	if len(data) < h.nrows*rowBytes {
		return nil, fmt.Errorf("file has %d bytes, header needs %d", len(data), h.nrows*rowBytes)
	}

	values := make([]float64, n)
	for r := 0; r < h.nrows; r++ {
		row := data[r*rowBytes:]
		for c := 0; c < h.ncols; c++ {
			values[r*h.ncols+c] = decode(row[c*size:])
		}
	}

	g := &Grid{
		NCols:     h.ncols,
		NRows:     h.nrows,
		XMin:      h.ulx - h.xdim/2,
		YMax:      h.uly + h.ydim/2,
		CellW:     h.xdim,
		CellH:     h.ydim,
		noData:    h.noData,
		hasNoData: h.hasNoData,
		values:    values,
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func sampleDecoder(h bilHeader) (func([]byte) float64, error) {
	switch {
	case h.nbits == 8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case h.nbits == 16 && h.pixelType == "UNSIGNEDINT":
		return func(b []byte) float64 { return float64(h.order.Uint16(b)) }, nil
	case h.nbits == 16:
		return func(b []byte) float64 { return float64(int16(h.order.Uint16(b))) }, nil
	case h.nbits == 32 && h.pixelType == "FLOAT":
		return func(b []byte) float64 { return float64(math.Float32frombits(h.order.Uint32(b))) }, nil
	case h.nbits == 32:
		return func(b []byte) float64 { return float64(int32(h.order.Uint32(b))) }, nil
	default:
		return nil, fmt.Errorf("unsupported sample type %d-bit %s", h.nbits, h.pixelType)
	}
}

func readHDR(path string) (bilHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return bilHeader{}, err
	}
	defer f.Close()

	h := bilHeader{nbands: 1, nbits: 8, pixelType: "SIGNEDINT", order: binary.LittleEndian, xdim: 1, ydim: 1}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		key, val := strings.ToUpper(fields[0]), fields[1]
		switch key {
		case "BYTEORDER":
			if strings.EqualFold(val, "M") {
				h.order = binary.BigEndian
			}
		case "PIXELTYPE":
			h.pixelType = strings.ToUpper(val)
		case "NROWS", "NCOLS", "NBANDS", "NBITS":
			n, err := strconv.Atoi(val)
			if err != nil {
				return bilHeader{}, fmt.Errorf("%s: %w", key, err)
			}
			switch key {
			case "NROWS":
				h.nrows = n
			case "NCOLS":
				h.ncols = n
			case "NBANDS":
				h.nbands = n
			case "NBITS":
				h.nbits = n
			}
		case "ULXMAP", "ULYMAP", "XDIM", "YDIM", "NODATA", "NODATA_VALUE":
			v, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return bilHeader{}, fmt.Errorf("%s: %w", key, err)
			}
			switch key {
			case "ULXMAP":
				h.ulx = v
			case "ULYMAP":
				h.uly = v
			case "XDIM":
				h.xdim = v
			case "YDIM":
				h.ydim = v
			default:
				h.noData, h.hasNoData = v, true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return bilHeader{}, err
	}
	if h.nbands < 1 {
		return bilHeader{}, fmt.Errorf("invalid band count %d", h.nbands)
	}
	return h, nil
}
