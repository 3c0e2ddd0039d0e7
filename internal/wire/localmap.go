package wire

// Corner is a single (x, y) map-tile corner coordinate.
type Corner struct {
	X, Y float32
}

// LocalMap is a decoded LOCAL_MAP_UPDATE payload: the tile dimensions, its
// three corner coordinates (north-west, north-east, south-west), and the
// remaining raw pixel bytes untouched. Width*height*bytes-per-pixel is never
// validated against len(Pixels) — the producer is trusted (spec §4.C).
type LocalMap struct {
	Width, Height uint32
	NW, NE, SW    Corner
	Pixels        []byte
}

// DecodeLocalMap decodes a local-map tile update. The pixel tail is the
// remainder of buf, returned unchanged.
func DecodeLocalMap(buf []byte) (LocalMap, error) {
	c := NewCursor(buf)
	var m LocalMap
	var err error

	if m.Width, err = c.ReadU32(); err != nil {
		return LocalMap{}, err
	}
	if m.Height, err = c.ReadU32(); err != nil {
		return LocalMap{}, err
	}
	for _, corner := range []*Corner{&m.NW, &m.NE, &m.SW} {
		if corner.X, err = c.ReadF32(); err != nil {
			return LocalMap{}, err
		}
		if corner.Y, err = c.ReadF32(); err != nil {
			return LocalMap{}, err
		}
	}
	m.Pixels = append([]byte(nil), c.Rest()...)
	return m, nil
}

// EncodeLocalMap is the mirror of DecodeLocalMap, used by tests exercising
// the round-trip. The relay mirrors upstream map tiles as raw frames and does
// not re-encode them.
func EncodeLocalMap(m LocalMap) []byte {
	w := NewWriterSize(24 + len(m.Pixels))
	w.WriteU32(m.Width)
	w.WriteU32(m.Height)
	for _, corner := range []Corner{m.NW, m.NE, m.SW} {
		w.WriteF32(corner.X)
		w.WriteF32(corner.Y)
	}
	w.WriteBytes(m.Pixels)
	return w.Bytes()
}
