package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// EncodeOptions describes a north-up GeoTIFF to write.
type EncodeOptions struct {
	Width  int
	Height int
	Bands  int
	// Pix is band-major: Pix[b*Height*Width + y*Width + x].
	Pix []uint8

	// EPSG of the raster CRS; 4326 and 4269 are written as geographic.
	EPSG int
	// OriginX, OriginY locate the upper-left corner of the upper-left pixel.
	OriginX   float64
	OriginY   float64
	PixelSize float64

	// Compression is CompressionNone (default) or CompressionDeflate.
	Compression int
	// TileSize > 0 writes square tiles, otherwise RowsPerStrip-row strips.
	TileSize     int
	RowsPerStrip int
	Planar       bool
}

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode writes opts as a little-endian classic TIFF. It exists to produce
// fixtures and sample tiles; it makes no attempt at efficient layouts.
func Encode(w io.Writer, opts EncodeOptions) error { //nolint:funlen // builds the full IFD inline
	if opts.Width <= 0 || opts.Height <= 0 || opts.Bands <= 0 {
		return fmt.Errorf("%w: empty image", ErrFormat)
	}
	if len(opts.Pix) != opts.Width*opts.Height*opts.Bands {
		return fmt.Errorf("%w: pixel buffer has %d samples, want %d", ErrFormat, len(opts.Pix), opts.Width*opts.Height*opts.Bands)
	}
	if opts.Compression == 0 {
		opts.Compression = CompressionNone
	}
	if opts.Compression != CompressionNone && opts.Compression != CompressionDeflate {
		return fmt.Errorf("%w: cannot write compression %d", ErrUnsupported, opts.Compression)
	}

	cw, ch := opts.Width, opts.RowsPerStrip
	if ch <= 0 || ch > opts.Height {
		ch = opts.Height
	}
	if opts.TileSize > 0 {
		cw, ch = opts.TileSize, opts.TileSize
	}
	across := (opts.Width + cw - 1) / cw
	down := (opts.Height + ch - 1) / ch
	planes, samples := 1, opts.Bands
	if opts.Planar {
		planes, samples = opts.Bands, 1
	}

	le := binary.LittleEndian
	var body bytes.Buffer
	body.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})

	var offsets, counts []uint32
	plane := opts.Width * opts.Height
	for p := 0; p < planes; p++ {
		for cy := 0; cy < down; cy++ {
			rows := ch
			if opts.TileSize == 0 && (cy+1)*ch > opts.Height {
				rows = opts.Height - cy*ch
			}
			for cx := 0; cx < across; cx++ {
				chunk := make([]byte, rows*cw*samples)
				for y := 0; y < rows; y++ {
					iy := cy*ch + y
					if iy >= opts.Height {
						break
					}
					for x := 0; x < cw; x++ {
						ix := cx*cw + x
						if ix >= opts.Width {
							break
						}
						for s := 0; s < samples; s++ {
							band := s
							if opts.Planar {
								band = p
							}
							chunk[(y*cw+x)*samples+s] = opts.Pix[band*plane+iy*opts.Width+ix]
						}
					}
				}
				if opts.Compression == CompressionDeflate {
					var zb bytes.Buffer
					zw := zlib.NewWriter(&zb)
					if _, err := zw.Write(chunk); err != nil {
						return err
					}
					if err := zw.Close(); err != nil {
						return err
					}
					chunk = zb.Bytes()
				}
				offsets = append(offsets, uint32(body.Len()))
				counts = append(counts, uint32(len(chunk)))
				body.Write(chunk)
			}
		}
	}
	if body.Len()%2 == 1 {
		body.WriteByte(0)
	}

	shorts := func(v ...uint16) []byte {
		b := make([]byte, 2*len(v))
		for i, x := range v {
			le.PutUint16(b[2*i:], x)
		}
		return b
	}
	longs := func(v ...uint32) []byte {
		b := make([]byte, 4*len(v))
		for i, x := range v {
			le.PutUint32(b[4*i:], x)
		}
		return b
	}
	doubles := func(v ...float64) []byte {
		b := make([]byte, 8*len(v))
		for i, x := range v {
			le.PutUint64(b[8*i:], math.Float64bits(x))
		}
		return b
	}

	bps := make([]uint16, opts.Bands)
	for i := range bps {
		bps[i] = 8
	}
	photometric := uint16(1)
	if opts.Bands >= 3 {
		photometric = 2
	}
	planarCfg := uint16(1)
	if opts.Planar {
		planarCfg = 2
	}

	entries := []outEntry{
		{tagImageWidth, typeLong, 1, longs(uint32(opts.Width))},
		{tagImageLength, typeLong, 1, longs(uint32(opts.Height))},
		{tagBitsPerSample, typeShort, uint32(opts.Bands), shorts(bps...)},
		{tagCompression, typeShort, 1, shorts(uint16(opts.Compression))},
		{tagPhotometric, typeShort, 1, shorts(photometric)},
		{tagSamplesPerPixel, typeShort, 1, shorts(uint16(opts.Bands))},
		{tagPlanarConfiguration, typeShort, 1, shorts(planarCfg)},
		{tagModelPixelScale, typeDouble, 3, doubles(opts.PixelSize, opts.PixelSize, 0)},
		{tagModelTiepoint, typeDouble, 6, doubles(0, 0, 0, opts.OriginX, opts.OriginY, 0)},
	}
	if opts.TileSize > 0 {
		entries = append(entries,
			outEntry{tagTileWidth, typeLong, 1, longs(uint32(cw))},
			outEntry{tagTileLength, typeLong, 1, longs(uint32(ch))},
			outEntry{tagTileOffsets, typeLong, uint32(len(offsets)), longs(offsets...)},
			outEntry{tagTileByteCounts, typeLong, uint32(len(counts)), longs(counts...)},
		)
	} else {
		entries = append(entries,
			outEntry{tagStripOffsets, typeLong, uint32(len(offsets)), longs(offsets...)},
			outEntry{tagRowsPerStrip, typeLong, 1, longs(uint32(ch))},
			outEntry{tagStripByteCounts, typeLong, uint32(len(counts)), longs(counts...)},
		)
	}
	if opts.Bands > 3 {
		extra := make([]uint16, opts.Bands-3)
		entries = append(entries, outEntry{tagExtraSamples, typeShort, uint32(len(extra)), shorts(extra...)})
	}
	if opts.EPSG != 0 {
		modelType, crsKey := uint16(modelTypeProjected), uint16(keyProjectedCRS)
		if opts.EPSG == 4326 || opts.EPSG == 4269 {
			modelType, crsKey = modelTypeGeographic, keyGeographicCRS
		}
		keys := shorts(
			1, 1, 0, 3,
			keyModelType, 0, 1, modelType,
			keyRasterType, 0, 1, 1,
			crsKey, 0, 1, uint16(opts.EPSG),
		)
		entries = append(entries, outEntry{tagGeoKeyDirectory, typeShort, 16, keys})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOff := uint32(body.Len())
	le.PutUint32(body.Bytes()[4:8], ifdOff)
	extraOff := ifdOff + 2 + uint32(len(entries))*ifdEntrySize + 4

	var ifd, extra bytes.Buffer
	_ = binary.Write(&ifd, le, uint16(len(entries)))
	for _, e := range entries {
		var rec [ifdEntrySize]byte
		le.PutUint16(rec[0:], e.tag)
		le.PutUint16(rec[2:], e.typ)
		le.PutUint32(rec[4:], e.count)
		if len(e.data) <= 4 {
			copy(rec[8:], e.data)
		} else {
			le.PutUint32(rec[8:], extraOff+uint32(extra.Len()))
			extra.Write(e.data)
			if extra.Len()%2 == 1 {
				extra.WriteByte(0)
			}
		}
		ifd.Write(rec[:])
	}
	_ = binary.Write(&ifd, le, uint32(0))

	body.Write(ifd.Bytes())
	body.Write(extra.Bytes())
	_, err := w.Write(body.Bytes())
	return err
}
