package wire

// Flags packs up to eight booleans into a single byte. Flags written ahead of
// optional fields gate whether those fields are present on the wire.
type Flags uint8

// PackFlags sets bit i for every true value in bits. Values past the eighth are ignored.
func PackFlags(bits ...bool) Flags {
	var f Flags
	for i, bit := range bits {
		if i >= 8 {
			break
		}
		f.Set(uint(i), bit)
	}
	return f
}

// Has reports whether bit i is set.
func (f Flags) Has(i uint) bool {
	if i >= 8 {
		return false
	}
	return f&(1<<i) != 0
}

// Set turns bit i on or off.
func (f *Flags) Set(i uint, on bool) {
	if i >= 8 {
		return
	}
	if on {
		*f |= 1 << i
	} else {
		*f &^= 1 << i
	}
}

// Mask returns the flags with only the lowest n bits kept.
func (f Flags) Mask(n uint) Flags {
	if n >= 8 {
		return f
	}
	return f & Flags((1<<n)-1)
}
