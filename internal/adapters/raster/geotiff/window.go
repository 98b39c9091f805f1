package geotiff

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"golang.org/x/image/tiff/lzw"
)

// Window is a pixel rectangle: columns [X, X+W), rows [Y, Y+H).
type Window struct {
	X, Y, W, H int
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool {
	return w.W <= 0 || w.H <= 0
}

// ReadWindow decodes every band of win into a band-major buffer of
// Bands*win.H*win.W samples. Only the chunks intersecting win are read.
func ReadWindow(r io.ReaderAt, m *Metadata, win Window) ([]uint8, error) {
	if win.Empty() || win.X < 0 || win.Y < 0 || win.X+win.W > m.Width || win.Y+win.H > m.Height {
		return nil, fmt.Errorf("%w: %+v not inside %dx%d", ErrWindow, win, m.Width, m.Height)
	}
	out := make([]uint8, m.Bands*win.H*win.W)
	plane := win.H * win.W
	across := m.ChunksAcross()
	perPlane := across * m.ChunksDown()

	cx0, cx1 := win.X/m.ChunkWidth, (win.X+win.W-1)/m.ChunkWidth
	cy0, cy1 := win.Y/m.ChunkHeight, (win.Y+win.H-1)/m.ChunkHeight

	planes := 1
	if m.Planar {
		planes = m.Bands
	}
	for p := 0; p < planes; p++ {
		for cy := cy0; cy <= cy1; cy++ {
			for cx := cx0; cx <= cx1; cx++ {
				idx := p*perPlane + cy*across + cx
				data, err := m.readChunk(r, idx, cy)
				if err != nil {
					return nil, err
				}

				// intersection of chunk and window, in image coordinates
				x0, y0 := max(win.X, cx*m.ChunkWidth), max(win.Y, cy*m.ChunkHeight)
				x1 := min(win.X+win.W, (cx+1)*m.ChunkWidth)
				y1 := min(win.Y+win.H, (cy+1)*m.ChunkHeight)
				for y := y0; y < y1; y++ {
					row := (y - cy*m.ChunkHeight) * m.ChunkWidth
					dst := (y-win.Y)*win.W - win.X
					for x := x0; x < x1; x++ {
						col := x - cx*m.ChunkWidth
						if m.Planar {
							out[p*plane+dst+x] = data[row+col]
							continue
						}
						src := (row + col) * m.Bands
						for b := 0; b < m.Bands; b++ {
							out[b*plane+dst+x] = data[src+b]
						}
					}
				}
			}
		}
	}
	return out, nil
}

// chunkRows is the number of decoded rows in chunk row cy; the last strip of
// a stripped image may be short.
func (m *Metadata) chunkRows(cy int) int {
	if m.ChunkWidth == m.Width && (cy+1)*m.ChunkHeight > m.Height {
		return m.Height - cy*m.ChunkHeight
	}
	return m.ChunkHeight
}

func (m *Metadata) readChunk(r io.ReaderAt, idx, cy int) ([]uint8, error) {
	samples := 1
	if !m.Planar {
		samples = m.Bands
	}
	rows := m.chunkRows(cy)
	want := rows * m.ChunkWidth * samples

	if m.ByteCounts[idx] == 0 {
		// sparse chunk
		return make([]uint8, want), nil
	}
	raw := make([]byte, m.ByteCounts[idx])
	if err := readFull(r, raw, int64(m.Offsets[idx])); err != nil {
		return nil, fmt.Errorf("%w: read chunk %d: %w", ErrFormat, idx, err)
	}

	data, err := decompress(m.Compression, raw, want)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d: %w", ErrFormat, idx, err)
	}
	if len(data) < want {
		return nil, fmt.Errorf("%w: chunk %d decoded to %d bytes, want %d", ErrFormat, idx, len(data), want)
	}
	data = data[:want]

	if m.Predictor == 2 {
		stride := m.ChunkWidth * samples
		for y := 0; y < rows; y++ {
			line := data[y*stride : (y+1)*stride]
			for i := samples; i < stride; i++ {
				line[i] += line[i-samples]
			}
		}
	}
	return data, nil
}

func decompress(compression int, raw []byte, want int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return raw, nil
	case CompressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		return readUpTo(rc, want)
	case CompressionDeflate, compressionAdobe:
		rc, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return readUpTo(rc, want)
	case CompressionPackBits:
		return unpackBits(raw, want)
	}
	return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, compression)
}

// readUpTo reads at most want bytes; encoders may pad or truncate the final chunk.
func readUpTo(r io.Reader, want int) ([]byte, error) {
	buf := make([]byte, want)
	n, err := io.ReadFull(r, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func unpackBits(src []byte, want int) ([]byte, error) {
	dst := make([]byte, 0, want)
	for i := 0; i < len(src) && len(dst) < want; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(src) {
				return nil, io.ErrUnexpectedEOF
			}
			dst = append(dst, src[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(src) {
				return nil, io.ErrUnexpectedEOF
			}
			for j := 0; j < 1-n; j++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	return dst, nil
}
