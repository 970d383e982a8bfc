// Package instance loads .evrp benchmark files into an opt.Problem and
// fills in the charging parameters the files do not carry.
package instance

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"evfleet/internal/opt"
)

// ErrMalformed wraps every structural parse failure.
var ErrMalformed = errors.New("malformed instance")

// MaxDimension bounds DIMENSION, and with it the n*n distance matrix.
const MaxDimension = 4000

type header struct {
	name              string
	vehicles          int
	dimension         int
	stations          int
	capacity          int
	energyCapacity    float64
	energyConsumption float64
	seen              map[string]bool
}

// Load opens path and parses it.
func Load(path string) (*opt.Problem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instance: %w", err)
	}
	defer f.Close()
	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse reads the EVRP header keys, NODE_COORD_SECTION and the optional
// DEMAND_SECTION. Node 1 is the depot, customers follow, and the last
// STATIONS ids are charging stations.
func Parse(r io.Reader) (*opt.Problem, error) {
	h := header{seen: map[string]bool{}}
	var coords [][2]float64 // allocated at the first coordinate line
	var present []bool
	numCoords := 0
	demands := map[int]int{}

	section := ""
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if section != "" && isDigit(line[0]) {
			fields := strings.Fields(line)
			switch section {
			case "NODE_COORD_SECTION":
				if len(fields) < 3 {
					return nil, fmt.Errorf("%w: line %d: want id x y", ErrMalformed, lineNo)
				}
				id, err1 := strconv.Atoi(fields[0])
				x, err2 := strconv.ParseFloat(fields[1], 64)
				y, err3 := strconv.ParseFloat(fields[2], 64)
				if err := errors.Join(err1, err2, err3); err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNo, err)
				}
				if !h.seen["DIMENSION"] {
					return nil, fmt.Errorf("%w: line %d: NODE_COORD_SECTION before DIMENSION", ErrMalformed, lineNo)
				}
				if id < 1 || id > h.dimension {
					return nil, fmt.Errorf("%w: line %d: node id %d outside 1..%d", ErrMalformed, lineNo, id, h.dimension)
				}
				if coords == nil {
					coords = make([][2]float64, h.dimension+1)
					coords[0] = [2]float64{-1, -1}
					present = make([]bool, h.dimension+1)
				}
				if !present[id] {
					present[id] = true
					numCoords++
				}
				coords[id] = [2]float64{x, y}
			case "DEMAND_SECTION":
				if len(fields) < 2 {
					return nil, fmt.Errorf("%w: line %d: want id demand", ErrMalformed, lineNo)
				}
				id, err1 := strconv.Atoi(fields[0])
				d, err2 := strconv.Atoi(fields[1])
				if err := errors.Join(err1, err2); err != nil {
					return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNo, err)
				}
				if h.seen["DIMENSION"] && (id < 1 || id > h.dimension) {
					return nil, fmt.Errorf("%w: line %d: node id %d outside 1..%d", ErrMalformed, lineNo, id, h.dimension)
				}
				demands[id] = d
			}
			continue
		}
		section = ""
		if strings.HasSuffix(line, "_SECTION") {
			section = line
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) == "DIMENSION" && coords != nil {
			return nil, fmt.Errorf("%w: line %d: DIMENSION after coordinates", ErrMalformed, lineNo)
		}
		if err := h.set(strings.TrimSpace(key), strings.TrimSpace(val)); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read instance: %w", err)
	}
	return h.build(coords, numCoords, demands)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func (h *header) set(key, val string) error {
	var err error
	switch key {
	case "NAME":
		h.name = val
	case "VEHICLES":
		h.vehicles, err = strconv.Atoi(val)
	case "DIMENSION":
		h.dimension, err = strconv.Atoi(val)
	case "STATIONS":
		h.stations, err = strconv.Atoi(val)
	case "CAPACITY":
		h.capacity, err = strconv.Atoi(val)
	case "ENERGY_CAPACITY":
		h.energyCapacity, err = strconv.ParseFloat(val, 64)
	case "ENERGY_CONSUMPTION":
		h.energyConsumption, err = strconv.ParseFloat(val, 64)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %v", key, err)
	}
	if key == "DIMENSION" && (h.dimension < 1 || h.dimension > MaxDimension) {
		return fmt.Errorf("DIMENSION %d outside 1..%d", h.dimension, MaxDimension)
	}
	h.seen[key] = true
	return nil
}

func (h *header) build(coords [][2]float64, numCoords int, demands map[int]int) (*opt.Problem, error) {
	for _, k := range []string{"VEHICLES", "DIMENSION", "STATIONS", "CAPACITY", "ENERGY_CAPACITY", "ENERGY_CONSUMPTION"} {
		if !h.seen[k] {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformed, k)
		}
	}
	if numCoords != h.dimension {
		return nil, fmt.Errorf("%w: expected %d coords, got %d", ErrMalformed, h.dimension, numCoords)
	}
	numCustomers := h.dimension - h.stations - 1
	if numCustomers < 0 {
		return nil, fmt.Errorf("%w: %d stations do not fit dimension %d", ErrMalformed, h.stations, h.dimension)
	}

	p := &opt.Problem{
		Name:              h.name,
		Vehicles:          h.vehicles,
		Capacity:          h.capacity,
		Depot:             1,
		Coords:            coords,
		Distance:          BuildDistanceMatrix(coords),
		EnergyCapacity:    h.energyCapacity,
		EnergyConsumption: h.energyConsumption,
		InitSoCRatio:      1,
	}
	for id := 2; id < 2+numCustomers; id++ {
		p.Customers = append(p.Customers, id)
	}
	for id := h.dimension - h.stations + 1; id <= h.dimension; id++ {
		p.Stations = append(p.Stations, id)
	}
	if len(demands) > 0 {
		p.Demands = demands
	}
	return p, nil
}

// BuildDistanceMatrix computes EUC_2D distances over 1-indexed coords;
// row and column 0 stay zero.
func BuildDistanceMatrix(coords [][2]float64) [][]float64 {
	n := len(coords)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 1; i < n; i++ {
		for j := 1; j < n; j++ {
			if i != j {
				d[i][j] = math.Hypot(coords[i][0]-coords[j][0], coords[i][1]-coords[j][1])
			}
		}
	}
	return d
}
