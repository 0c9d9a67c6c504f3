package math

type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

type Signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

type Integer interface {
	Signed | Unsigned
}

func Min[T Integer](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Min3 is the smallest of three values; the read and write paths size each
// chunk by it.
func Min3[T Integer](a, b, c T) T {
	return Min(Min(a, b), c)
}

// DivRoundUp divides rounding toward positive infinity. `a` must not be
// negative.
func DivRoundUp[T Integer](a, b T) T {
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}
