// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutator

import (
	"encoding/binary"
	"math/rand"

	"fortio.org/safecast"
	"github.com/pkg/errors"
)

// Source gives the mutator read access to other inputs for splicing.
type Source interface {
	Len() int
	Input(i int) []byte
}

// Mutator applies randomized havoc operators to inputs. All choices are
// drawn from r, so a run is reproducible given the same seed.
type Mutator struct {
	r      *rand.Rand
	dict   [][]byte
	maxLen int
}

func New(r *rand.Rand, maxLen int, dict []string) (*Mutator, error) {
	if _, err := safecast.Conv[uint32](maxLen); err != nil || maxLen == 0 {
		return nil, errors.Errorf("bad max input size %v", maxLen)
	}
	m := &Mutator{r: r, maxLen: maxLen}
	seen := make(map[string]bool)
	for _, lit := range dict {
		if lit == "" || seen[lit] || len(lit) > maxLen {
			continue
		}
		seen[lit] = true
		m.dict = append(m.dict, []byte(lit))
	}
	return m, nil
}

func (m *Mutator) rand(n int) int {
	if n <= 0 {
		return 0
	}
	return m.r.Intn(n)
}

func (m *Mutator) randbool() bool {
	return m.rand(2) == 0
}

// Dict returns the deduplicated dictionary.
func (m *Mutator) Dict() [][]byte {
	return m.dict
}

// Generate returns random bytes of length 1..maxLen.
func (m *Mutator) Generate(maxLen int) []byte {
	if maxLen > m.maxLen {
		maxLen = m.maxLen
	}
	res := make([]byte, m.rand(maxLen)+1)
	m.r.Read(res)
	return res
}

// chooseLen returns a length in [1, n], biased towards short ones.
func (m *Mutator) chooseLen(n int) int {
	if n <= 0 {
		return 0
	}
	switch x := m.rand(100); {
	case x < 90:
		return m.rand(min(8, n)) + 1
	case x < 99:
		return m.rand(min(32, n)) + 1
	default:
		return m.rand(n) + 1
	}
}

// Mutate returns a mutated copy of data. src may be nil, in which case
// the splicing operators are skipped.
func (m *Mutator) Mutate(data []byte, src Source) []byte {
	res := make([]byte, len(data))
	copy(res, data)
	nm := 1
	for m.randbool() && nm < 16 {
		nm++
	}
	for iter := 0; iter < nm; iter++ {
		var ok bool
		res, ok = m.apply(m.rand(numOps), res, src)
		if !ok {
			iter--
		}
	}
	if len(res) > m.maxLen {
		res = res[:m.maxLen]
	}
	return res
}

const numOps = 19

// apply runs operator op on res. It returns false if the operator is not
// applicable to res, leaving res unchanged.
func (m *Mutator) apply(op int, res []byte, src Source) ([]byte, bool) {
	switch op {
	case 0:
		// Remove a range of bytes.
		if len(res) <= 1 {
			return res, false
		}
		pos0 := m.rand(len(res))
		pos1 := pos0 + m.chooseLen(len(res)-pos0)
		copy(res[pos0:], res[pos1:])
		res = res[:len(res)-(pos1-pos0)]
	case 1:
		// Insert a range of random bytes.
		pos := m.rand(len(res) + 1)
		n := m.chooseLen(10)
		res = append(res, make([]byte, n)...)
		copy(res[pos+n:], res[pos:])
		for i := 0; i < n; i++ {
			res[pos+i] = byte(m.rand(256))
		}
	case 2:
		// Duplicate a range of bytes.
		if len(res) <= 1 {
			return res, false
		}
		src := m.rand(len(res))
		dst := m.rand(len(res))
		for dst == src {
			dst = m.rand(len(res))
		}
		n := m.chooseLen(len(res) - src)
		tmp := make([]byte, n)
		copy(tmp, res[src:])
		res = append(res, make([]byte, n)...)
		copy(res[dst+n:], res[dst:])
		copy(res[dst:], tmp)
	case 3:
		// Copy a range of bytes.
		if len(res) <= 1 {
			return res, false
		}
		src := m.rand(len(res))
		dst := m.rand(len(res))
		for dst == src {
			dst = m.rand(len(res))
		}
		n := m.chooseLen(len(res) - src)
		copy(res[dst:], res[src:src+n])
	case 4:
		// Bit flip.
		if len(res) == 0 {
			return res, false
		}
		pos := m.rand(len(res))
		res[pos] ^= 1 << uint(m.rand(8))
	case 5:
		// Set a byte to a random value.
		if len(res) == 0 {
			return res, false
		}
		pos := m.rand(len(res))
		res[pos] ^= byte(m.rand(255)) + 1
	case 6:
		// Swap 2 bytes.
		if len(res) <= 1 {
			return res, false
		}
		src := m.rand(len(res))
		dst := m.rand(len(res))
		for dst == src {
			dst = m.rand(len(res))
		}
		res[src], res[dst] = res[dst], res[src]
	case 7:
		// Add/subtract from a byte.
		if len(res) == 0 {
			return res, false
		}
		pos := m.rand(len(res))
		v := byte(m.rand(35) + 1)
		if m.randbool() {
			res[pos] += v
		} else {
			res[pos] -= v
		}
	case 8:
		// Add/subtract from a uint16.
		if len(res) < 2 {
			return res, false
		}
		pos := m.rand(len(res) - 1)
		buf := res[pos:]
		v := uint16(m.rand(35) + 1)
		if m.randbool() {
			v = 0 - v
		}
		if m.randbool() {
			binary.LittleEndian.PutUint16(buf, binary.LittleEndian.Uint16(buf)+v)
		} else {
			binary.BigEndian.PutUint16(buf, binary.BigEndian.Uint16(buf)+v)
		}
	case 9:
		// Add/subtract from a uint32.
		if len(res) < 4 {
			return res, false
		}
		pos := m.rand(len(res) - 3)
		buf := res[pos:]
		v := uint32(m.rand(35) + 1)
		if m.randbool() {
			v = 0 - v
		}
		if m.randbool() {
			binary.LittleEndian.PutUint32(buf, binary.LittleEndian.Uint32(buf)+v)
		} else {
			binary.BigEndian.PutUint32(buf, binary.BigEndian.Uint32(buf)+v)
		}
	case 10:
		// Add/subtract from a uint64.
		if len(res) < 8 {
			return res, false
		}
		pos := m.rand(len(res) - 7)
		buf := res[pos:]
		v := uint64(m.rand(35) + 1)
		if m.randbool() {
			v = 0 - v
		}
		if m.randbool() {
			binary.LittleEndian.PutUint64(buf, binary.LittleEndian.Uint64(buf)+v)
		} else {
			binary.BigEndian.PutUint64(buf, binary.BigEndian.Uint64(buf)+v)
		}
	case 11:
		// Replace a byte with an interesting value.
		if len(res) == 0 {
			return res, false
		}
		pos := m.rand(len(res))
		res[pos] = byte(interesting8[m.rand(len(interesting8))])
	case 12:
		// Replace an uint16 with an interesting value.
		if len(res) < 2 {
			return res, false
		}
		pos := m.rand(len(res) - 1)
		buf := res[pos:]
		v := uint16(interesting16[m.rand(len(interesting16))])
		if m.randbool() {
			binary.LittleEndian.PutUint16(buf, v)
		} else {
			binary.BigEndian.PutUint16(buf, v)
		}
	case 13:
		// Replace an uint32 with an interesting value.
		if len(res) < 4 {
			return res, false
		}
		pos := m.rand(len(res) - 3)
		buf := res[pos:]
		v := uint32(interesting32[m.rand(len(interesting32))])
		if m.randbool() {
			binary.LittleEndian.PutUint32(buf, v)
		} else {
			binary.BigEndian.PutUint32(buf, v)
		}
	case 14:
		// Replace an ascii digit with another digit.
		var digits []int
		for i, v := range res {
			if v >= '0' && v <= '9' {
				digits = append(digits, i)
			}
		}
		if len(digits) == 0 {
			return res, false
		}
		pos := digits[m.rand(len(digits))]
		was := res[pos]
		now := was
		for was == now {
			now = byte(m.rand(10)) + '0'
		}
		res[pos] = now
	case 15:
		// Splice a range from another input.
		other := m.pick(src)
		if len(res) < 4 || len(other) < 4 {
			return res, false
		}
		n := min(len(res), len(other))
		// Keep the common prefix and suffix, take the middle from other.
		diff0 := 0
		for ; diff0 < n && res[diff0] == other[diff0]; diff0++ {
		}
		diff1 := n - 1
		for ; diff1 > diff0 && res[diff1] == other[diff1]; diff1-- {
		}
		if diff1-diff0 < 2 {
			return res, false
		}
		res = res[:n]
		pos := diff0 + 1 + m.rand(diff1-diff0-1)
		copy(res[pos:], other[pos:n])
	case 16:
		// Insert a part of another input.
		other := m.pick(src)
		if len(other) < 2 {
			return res, false
		}
		pos0 := m.rand(len(res) + 1)
		pos1 := m.rand(len(other) - 2)
		n := m.chooseLen(len(other)-pos1-2) + 2
		res = append(res, make([]byte, n)...)
		copy(res[pos0+n:], res[pos0:])
		copy(res[pos0:], other[pos1:pos1+n])
	case 17:
		// Insert a dictionary literal.
		if len(m.dict) == 0 {
			return res, false
		}
		lit := m.dict[m.rand(len(m.dict))]
		pos := m.rand(len(res) + 1)
		res = append(res, make([]byte, len(lit))...)
		copy(res[pos+len(lit):], res[pos:])
		copy(res[pos:], lit)
	case 18:
		// Overwrite with a dictionary literal.
		if len(m.dict) == 0 {
			return res, false
		}
		lit := m.dict[m.rand(len(m.dict))]
		if len(lit) > len(res) {
			return res, false
		}
		pos := m.rand(len(res) - len(lit) + 1)
		copy(res[pos:], lit)
	}
	return res, true
}

func (m *Mutator) pick(src Source) []byte {
	if src == nil || src.Len() == 0 {
		return nil
	}
	return src.Input(m.rand(src.Len()))
}

var (
	interesting8  = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
	interesting32 = []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}
)

func init() {
	for _, v := range interesting8 {
		interesting16 = append(interesting16, int16(v))
	}
	for _, v := range interesting16 {
		interesting32 = append(interesting32, int32(v))
	}
}
