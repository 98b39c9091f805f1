// Package geotiff reads georeferenced windows from classic TIFF files.
//
// Only the subset used by aerial imagery tiles is supported: 8-bit samples,
// chunky or planar layout, strips or tiles, and no, LZW, Deflate or PackBits
// compression. All access goes through io.ReaderAt so that local files and
// ranged remote reads behave the same.
package geotiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	headerSize     = 8
	ifdEntrySize   = 12
	maxIFDEntries  = 4096
	maxTagBytes    = 64 << 20
	bigTIFFVersion = 43
	tiffVersion    = 42
)

// GeoTransform maps pixel (col, row) to CRS coordinates using the GDAL layout:
// x = T[0] + col*T[1] + row*T[2], y = T[3] + col*T[4] + row*T[5].
type GeoTransform [6]float64

// Rotated reports whether the transform has rotation or shear terms.
func (t GeoTransform) Rotated() bool {
	return t[2] != 0 || t[4] != 0
}

// Metadata describes the first image of a GeoTIFF.
type Metadata struct {
	Width         int
	Height        int
	Bands         int
	BitsPerSample int
	Compression   int
	Predictor     int
	Planar        bool
	ChunkWidth    int
	ChunkHeight   int
	Offsets       []uint64
	ByteCounts    []uint64
	Transform     GeoTransform
	EPSG          int
	HasNoData     bool
	NoData        float64

	order binary.ByteOrder
}

// ChunksAcross returns the number of chunks per chunk row.
func (m *Metadata) ChunksAcross() int {
	return (m.Width + m.ChunkWidth - 1) / m.ChunkWidth
}

// ChunksDown returns the number of chunk rows.
func (m *Metadata) ChunksDown() int {
	return (m.Height + m.ChunkHeight - 1) / m.ChunkHeight
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	raw   []byte
}

// ReadMetadata parses the header and first IFD.
func ReadMetadata(r io.ReaderAt) (*Metadata, error) {
	var hdr [headerSize]byte
	if err := readFull(r, hdr[:], 0); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrFormat, err)
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark %q", ErrFormat, hdr[:2])
	}
	switch order.Uint16(hdr[2:4]) {
	case tiffVersion:
	case bigTIFFVersion:
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: bad version", ErrFormat)
	}

	entries, err := readIFD(r, order, int64(order.Uint32(hdr[4:8])))
	if err != nil {
		return nil, err
	}
	return buildMetadata(entries, order)
}

// readFull reads exactly len(p) bytes, accepting io.EOF alongside a full read.
func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}

func readIFD(r io.ReaderAt, order binary.ByteOrder, off int64) (map[uint16]entry, error) {
	var cnt [2]byte
	if err := readFull(r, cnt[:], off); err != nil {
		return nil, fmt.Errorf("%w: read ifd: %w", ErrFormat, err)
	}
	n := int(order.Uint16(cnt[:]))
	if n == 0 || n > maxIFDEntries {
		return nil, fmt.Errorf("%w: ifd has %d entries", ErrFormat, n)
	}
	buf := make([]byte, n*ifdEntrySize)
	if err := readFull(r, buf, off+2); err != nil {
		return nil, fmt.Errorf("%w: read ifd entries: %w", ErrFormat, err)
	}

	entries := make(map[uint16]entry, n)
	for i := 0; i < n; i++ {
		b := buf[i*ifdEntrySize : (i+1)*ifdEntrySize]
		e := entry{
			tag:   order.Uint16(b[0:2]),
			typ:   order.Uint16(b[2:4]),
			count: order.Uint32(b[4:8]),
		}
		size, ok := typeSizes[e.typ]
		if !ok {
			continue
		}
		total := int64(size) * int64(e.count)
		if total > maxTagBytes {
			return nil, fmt.Errorf("%w: tag %d too large", ErrFormat, e.tag)
		}
		if total <= 4 {
			e.raw = append([]byte(nil), b[8:8+total]...)
		} else {
			e.raw = make([]byte, total)
			if err := readFull(r, e.raw, int64(order.Uint32(b[8:12]))); err != nil {
				return nil, fmt.Errorf("%w: read tag %d: %w", ErrFormat, e.tag, err)
			}
		}
		entries[e.tag] = e
	}
	return entries, nil
}

func (e entry) uints(order binary.ByteOrder) ([]uint64, error) {
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte, typeUndefined:
			out[i] = uint64(e.raw[i])
		case typeShort:
			out[i] = uint64(order.Uint16(e.raw[2*i:]))
		case typeLong:
			out[i] = uint64(order.Uint32(e.raw[4*i:]))
		default:
			return nil, fmt.Errorf("%w: tag %d has non-integer type %d", ErrFormat, e.tag, e.typ)
		}
	}
	return out, nil
}

func (e entry) floats(order binary.ByteOrder) ([]float64, error) {
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case typeDouble:
			out[i] = math.Float64frombits(order.Uint64(e.raw[8*i:]))
		case typeFloat:
			out[i] = float64(math.Float32frombits(order.Uint32(e.raw[4*i:])))
		default:
			return nil, fmt.Errorf("%w: tag %d has non-float type %d", ErrFormat, e.tag, e.typ)
		}
	}
	return out, nil
}

func uintTag(entries map[uint16]entry, order binary.ByteOrder, tag uint16, def uint64) (uint64, error) {
	e, ok := entries[tag]
	if !ok || e.count == 0 {
		return def, nil
	}
	v, err := e.uints(order)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func buildMetadata(entries map[uint16]entry, order binary.ByteOrder) (*Metadata, error) { //nolint:funlen,gocyclo // linear walk over required tags
	m := &Metadata{order: order}

	width, err := uintTag(entries, order, tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := uintTag(entries, order, tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: missing image dimensions", ErrFormat)
	}
	m.Width, m.Height = int(width), int(height)

	spp, err := uintTag(entries, order, tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	m.Bands = int(spp)

	m.BitsPerSample = 1
	if e, ok := entries[tagBitsPerSample]; ok {
		bps, err := e.uints(order)
		if err != nil {
			return nil, err
		}
		if len(bps) == 0 {
			return nil, fmt.Errorf("%w: empty bits per sample", ErrFormat)
		}
		m.BitsPerSample = int(bps[0])
		for _, b := range bps {
			if int(b) != m.BitsPerSample {
				return nil, fmt.Errorf("%w: mixed bits per sample", ErrUnsupported)
			}
		}
	}
	if m.BitsPerSample != 8 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, m.BitsPerSample)
	}

	comp, err := uintTag(entries, order, tagCompression, CompressionNone)
	if err != nil {
		return nil, err
	}
	m.Compression = int(comp)
	switch m.Compression {
	case CompressionNone, CompressionLZW, CompressionDeflate, compressionAdobe, CompressionPackBits:
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, m.Compression)
	}

	pred, err := uintTag(entries, order, tagPredictor, 1)
	if err != nil {
		return nil, err
	}
	m.Predictor = int(pred)
	if m.Predictor != 1 && m.Predictor != 2 {
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupported, m.Predictor)
	}

	planar, err := uintTag(entries, order, tagPlanarConfiguration, 1)
	if err != nil {
		return nil, err
	}
	m.Planar = planar == 2

	offTag, cntTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
	if _, tiled := entries[tagTileWidth]; tiled {
		tw, err := uintTag(entries, order, tagTileWidth, 0)
		if err != nil {
			return nil, err
		}
		th, err := uintTag(entries, order, tagTileLength, 0)
		if err != nil {
			return nil, err
		}
		m.ChunkWidth, m.ChunkHeight = int(tw), int(th)
		offTag, cntTag = tagTileOffsets, tagTileByteCounts
	} else {
		rps, err := uintTag(entries, order, tagRowsPerStrip, height)
		if err != nil {
			return nil, err
		}
		if rps > height {
			rps = height
		}
		m.ChunkWidth, m.ChunkHeight = m.Width, int(rps)
	}
	if m.ChunkWidth <= 0 || m.ChunkHeight <= 0 {
		return nil, fmt.Errorf("%w: zero chunk size", ErrFormat)
	}

	offs, ok := entries[offTag]
	if !ok {
		return nil, fmt.Errorf("%w: missing chunk offsets", ErrFormat)
	}
	if m.Offsets, err = offs.uints(order); err != nil {
		return nil, err
	}
	cnts, ok := entries[cntTag]
	if !ok {
		return nil, fmt.Errorf("%w: missing chunk byte counts", ErrFormat)
	}
	if m.ByteCounts, err = cnts.uints(order); err != nil {
		return nil, err
	}
	want := m.ChunksAcross() * m.ChunksDown()
	if m.Planar {
		want *= m.Bands
	}
	if len(m.Offsets) < want || len(m.ByteCounts) < want {
		return nil, fmt.Errorf("%w: have %d chunks, want %d", ErrFormat, len(m.Offsets), want)
	}

	if err := m.readGeoreference(entries); err != nil {
		return nil, err
	}

	if e, ok := entries[tagGDALNoData]; ok && e.typ == typeASCII {
		s := strings.TrimSpace(strings.TrimRight(string(e.raw), "\x00"))
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			m.HasNoData, m.NoData = true, v
		}
	}
	return m, nil
}

func (m *Metadata) readGeoreference(entries map[uint16]entry) error {
	if e, ok := entries[tagModelTransformation]; ok {
		v, err := e.floats(m.order)
		if err != nil {
			return err
		}
		if len(v) < 16 {
			return fmt.Errorf("%w: short model transformation", ErrFormat)
		}
		m.Transform = GeoTransform{v[3], v[0], v[1], v[7], v[4], v[5]}
	} else {
		se, ok1 := entries[tagModelPixelScale]
		te, ok2 := entries[tagModelTiepoint]
		if !ok1 || !ok2 {
			return fmt.Errorf("%w: missing georeferencing tags", ErrFormat)
		}
		scale, err := se.floats(m.order)
		if err != nil {
			return err
		}
		tie, err := te.floats(m.order)
		if err != nil {
			return err
		}
		if len(scale) < 2 || len(tie) < 6 {
			return fmt.Errorf("%w: short georeferencing tags", ErrFormat)
		}
		m.Transform = GeoTransform{
			tie[3] - tie[0]*scale[0], scale[0], 0,
			tie[4] + tie[1]*scale[1], 0, -scale[1],
		}
	}

	e, ok := entries[tagGeoKeyDirectory]
	if !ok {
		return nil
	}
	keys, err := e.uints(m.order)
	if err != nil {
		return err
	}
	if len(keys) < 4 {
		return fmt.Errorf("%w: short geokey directory", ErrFormat)
	}
	var modelType, projected, geographic uint64
	n := int(keys[3])
	for i := 0; i < n && 4+4*i+3 < len(keys); i++ {
		k := keys[4+4*i : 8+4*i]
		if k[1] != 0 { // value stored in another tag
			continue
		}
		switch k[0] {
		case keyModelType:
			modelType = k[3]
		case keyProjectedCRS:
			projected = k[3]
		case keyGeographicCRS:
			geographic = k[3]
		}
	}
	switch {
	case projected != 0 && projected != userDefined && modelType != modelTypeGeographic:
		m.EPSG = int(projected)
	case geographic != 0 && geographic != userDefined:
		m.EPSG = int(geographic)
	}
	return nil
}
