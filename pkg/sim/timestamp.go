package sim

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

var femtosPerSecond = big.NewInt(1_000_000_000_000_000)

// Timestamp is a simulation time with femtosecond resolution and unbounded
// range, as used on the simulator wire protocol. The wire format is
// "seconds.femtoseconds" with the fractional part always 15 digits.
//
// The zero value is time zero.
type Timestamp struct {
	secs   *big.Int
	femtos *big.Int // always < 1e15
}

// ZeroTimestamp returns time zero.
func ZeroTimestamp() Timestamp {
	return Timestamp{secs: new(big.Int), femtos: new(big.Int)}
}

// TimestampFromFemtoseconds splits a femtosecond count into a timestamp.
func TimestampFromFemtoseconds(f *big.Int) Timestamp {
	secs, femtos := new(big.Int).QuoRem(f, femtosPerSecond, new(big.Int))
	return Timestamp{secs: secs, femtos: femtos}
}

// AsFemtoseconds returns the timestamp as a total femtosecond count.
func (t Timestamp) AsFemtoseconds() *big.Int {
	f := new(big.Int).Mul(orZero(t.secs), femtosPerSecond)
	return f.Add(f, orZero(t.femtos))
}

// Cmp compares two timestamps, with the usual -1, 0, 1 result.
func (t Timestamp) Cmp(u Timestamp) int {
	if c := orZero(t.secs).Cmp(orZero(u.secs)); c != 0 {
		return c
	}
	return orZero(t.femtos).Cmp(orZero(u.femtos))
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%015d", orZero(t.secs), orZero(t.femtos))
}

// MarshalJSON encodes the timestamp in its wire format.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the timestamp from its wire format.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := parseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func parseTimestamp(s string) (Timestamp, error) {
	secsStr, femtosStr, ok := strings.Cut(s, ".")
	if !ok {
		return Timestamp{}, errors.Errorf("timestamp %q has no fractional part", s)
	}
	secs, ok := new(big.Int).SetString(secsStr, 10)
	if !ok || secs.Sign() < 0 {
		return Timestamp{}, errors.Errorf("bad seconds in timestamp %q", s)
	}
	femtos, ok := new(big.Int).SetString(femtosStr, 10)
	if !ok || femtos.Sign() < 0 || femtos.Cmp(femtosPerSecond) >= 0 {
		return Timestamp{}, errors.Errorf("bad femtoseconds in timestamp %q", s)
	}
	return Timestamp{secs: secs, femtos: femtos}, nil
}

func orZero(i *big.Int) *big.Int {
	if i == nil {
		return new(big.Int)
	}
	return i
}
