package sdata

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"

	"github.com/spatialbridge/server/internal/transform"
)

// Snapshot format: a zstd-compressed JSON document holding the whole dataset.
// Committed elements survive process restarts through this file; it is not a
// general interchange format.

const snapshotVersion = 1

type snapshotDoc struct {
	Version  int          `json:"version"`
	Name     string       `json:"name"`
	Elements []elementDoc `json:"elements"`
	Tables   []tableDoc   `json:"tables,omitempty"`
}

type elementDoc struct {
	Kind       string         `json:"kind"`
	Name       string         `json:"name"`
	Raster     *rasterDoc     `json:"raster,omitempty"`
	Points     *pointsDoc     `json:"points,omitempty"`
	Shapes     *shapesDoc     `json:"shapes,omitempty"`
	Transforms []transformDoc `json:"transforms"`
}

type transformDoc struct {
	System string     `json:"system"`
	Matrix [6]float64 `json:"matrix"` // a b tx c d ty, x/y axis order
}

type rasterDoc struct {
	Levels []gridDoc `json:"levels"`
}

type gridDoc struct {
	C   int       `json:"c"`
	H   int       `json:"h"`
	W   int       `json:"w"`
	Pix []float64 `json:"pix"`
}

type pointsDoc struct {
	X          []float64 `json:"x"`
	Y          []float64 `json:"y"`
	Attributes *tableDoc `json:"attributes,omitempty"`
}

type shapesDoc struct {
	// Each entry is a multipolygon: parts -> rings -> [x, y] pairs. A single
	// part round-trips as a plain polygon.
	Polygons [][][][2]float64 `json:"polygons,omitempty"`
	Centers  [][2]float64     `json:"centers,omitempty"`
	Radii    []float64        `json:"radii,omitempty"`
}

type tableDoc struct {
	Name        string      `json:"name"`
	RegionKey   string      `json:"region_key,omitempty"`
	InstanceKey string      `json:"instance_key,omitempty"`
	Columns     []columnDoc `json:"columns"`
}

type columnDoc struct {
	Name   string            `json:"name"`
	Floats []float64         `json:"floats,omitempty"`
	Values []string          `json:"values,omitempty"`
	Colors map[string]string `json:"colors,omitempty"`
}

// Save writes the dataset to path as a zstd-compressed snapshot.
func Save(d *Dataset, path string) error {
	doc := snapshotDoc{Version: snapshotVersion, Name: d.Name()}
	for _, el := range d.Elements() {
		doc.Elements = append(doc.Elements, encodeElement(el))
	}
	for _, name := range d.TableNames() {
		t, err := d.Table(name)
		if err != nil {
			return err
		}
		doc.Tables = append(doc.Tables, encodeTable(t))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(&doc); err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return enc.Close()
}

// Load reads a dataset snapshot written by Save.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	var doc snapshotDoc
	if err := json.NewDecoder(dec).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}

	d := New(doc.Name)
	for _, ed := range doc.Elements {
		el, err := decodeElement(ed)
		if err != nil {
			return nil, err
		}
		if err := d.WriteElement(el, ""); err != nil {
			return nil, err
		}
	}
	for _, td := range doc.Tables {
		t, err := decodeTable(td)
		if err != nil {
			return nil, err
		}
		d.SetTable(t)
	}
	return d, nil
}

func encodeElement(el *Element) elementDoc {
	ed := elementDoc{Kind: el.Kind.String(), Name: el.Name}
	for _, cs := range el.Transforms.Systems() {
		a, _ := el.Transforms.Get(cs)
		ed.Transforms = append(ed.Transforms, transformDoc{
			System: cs,
			Matrix: [6]float64{a.A, a.B, a.TX, a.C, a.D, a.TY},
		})
	}
	switch {
	case el.Raster != nil:
		rd := &rasterDoc{}
		for _, g := range el.Raster.Pyramid {
			rd.Levels = append(rd.Levels, gridDoc{C: g.C, H: g.H, W: g.W, Pix: g.Pix})
		}
		ed.Raster = rd
	case el.Points != nil:
		pd := &pointsDoc{X: el.Points.X, Y: el.Points.Y}
		if el.Points.Attributes != nil {
			td := encodeTable(el.Points.Attributes)
			pd.Attributes = &td
		}
		ed.Points = pd
	case el.Shapes != nil:
		ed.Shapes = encodeShapes(el.Shapes)
	}
	return ed
}

func encodeShapes(s *ShapeSet) *shapesDoc {
	sd := &shapesDoc{}
	if s.IsCircles() {
		sd.Radii = s.Radii
		for _, c := range s.Centers {
			sd.Centers = append(sd.Centers, [2]float64{c[0], c[1]})
		}
		return sd
	}
	for _, g := range s.Geoms {
		var mp orb.MultiPolygon
		switch geom := g.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{geom}
		case orb.MultiPolygon:
			mp = geom
		}
		sd.Polygons = append(sd.Polygons, encodeMultiPolygon(mp))
	}
	return sd
}

func encodeMultiPolygon(mp orb.MultiPolygon) [][][2]float64 {
	// Only exterior rings are carried; the viewer never renders holes.
	out := make([][][2]float64, 0, len(mp))
	for _, poly := range mp {
		if len(poly) == 0 {
			continue
		}
		ring := poly[0]
		ringDoc := make([][2]float64, len(ring))
		for i, pt := range ring {
			ringDoc[i] = [2]float64{pt[0], pt[1]}
		}
		out = append(out, ringDoc)
	}
	return out
}

func decodeElement(ed elementDoc) (*Element, error) {
	kind, err := ParseKind(ed.Kind)
	if err != nil {
		return nil, err
	}
	el := NewElement(kind, ed.Name)
	for _, td := range ed.Transforms {
		m := td.Matrix
		el.Transforms.Set(td.System, transform.Affine{
			A: m[0], B: m[1], TX: m[2], C: m[3], D: m[4], TY: m[5],
		})
	}
	switch {
	case ed.Raster != nil:
		r := &Raster{}
		for _, gd := range ed.Raster.Levels {
			r.Pyramid = append(r.Pyramid, &Grid{C: gd.C, H: gd.H, W: gd.W, Pix: gd.Pix})
		}
		el.Raster = r
	case ed.Points != nil:
		pc := &PointCloud{X: ed.Points.X, Y: ed.Points.Y}
		if ed.Points.Attributes != nil {
			t, err := decodeTable(*ed.Points.Attributes)
			if err != nil {
				return nil, err
			}
			pc.Attributes = t
		}
		el.Points = pc
	case ed.Shapes != nil:
		el.Shapes = decodeShapes(ed.Shapes)
	}
	return el, nil
}

func decodeShapes(sd *shapesDoc) *ShapeSet {
	s := &ShapeSet{}
	if len(sd.Radii) > 0 {
		s.Radii = sd.Radii
		for _, c := range sd.Centers {
			s.Centers = append(s.Centers, orb.Point{c[0], c[1]})
		}
		return s
	}
	for _, rings := range sd.Polygons {
		mp := make(orb.MultiPolygon, 0, len(rings))
		for _, ringDoc := range rings {
			ring := make(orb.Ring, len(ringDoc))
			for i, pt := range ringDoc {
				ring[i] = orb.Point{pt[0], pt[1]}
			}
			mp = append(mp, orb.Polygon{ring})
		}
		if len(mp) == 1 {
			s.Geoms = append(s.Geoms, mp[0])
		} else {
			s.Geoms = append(s.Geoms, mp)
		}
	}
	return s
}

func encodeTable(t *Table) tableDoc {
	td := tableDoc{Name: t.Name(), RegionKey: t.RegionKey(), InstanceKey: t.InstanceKey()}
	for _, name := range t.ColumnNames() {
		col, _ := t.Column(name)
		cd := columnDoc{Name: name}
		if col.Kind() == ColumnNumeric {
			cd.Floats = col.Floats()
		} else {
			cd.Values = col.Values()
			cd.Colors = col.Colors()
		}
		td.Columns = append(td.Columns, cd)
	}
	return td
}

func decodeTable(td tableDoc) (*Table, error) {
	t := NewTable(td.Name)
	t.SetAnnotationKeys(td.RegionKey, td.InstanceKey)
	for _, cd := range td.Columns {
		var col *Column
		if cd.Values != nil {
			col = NewCategoricalColumn(cd.Values)
			for cat, hex := range cd.Colors {
				col.SetColor(cat, hex)
			}
		} else {
			col = NewNumericColumn(cd.Floats)
		}
		if err := t.SetColumn(cd.Name, col); err != nil {
			return nil, err
		}
	}
	return t, nil
}
