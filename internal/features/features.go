// Package features builds the numeric input vector for the bot classifier.
// It owns the canonical order of the eight profile metrics the classifier was
// fitted on, and the ordered container used to report per-feature rankings.
//
// The classifier's coefficients are bound to positions, so every conversion
// between named metrics and vectors goes through this package.
package features

import (
	"errors"
	"fmt"
	"math"
)

// Count is the number of features the classifier consumes.
const Count = 8

var (
	// ErrMissingFeature is returned when a feature map lacks one of the canonical keys.
	ErrMissingFeature = errors.New("missing feature")
	// ErrInvalidFeature is returned for values that cannot be represented
	// without changing them: non-finite numbers, and counts that are negative,
	// fractional or beyond int64.
	ErrInvalidFeature = errors.New("invalid feature")
)

// countLimit is 2^63, the first float64 outside the int64 range.
const countLimit = float64(1 << 63)

// Name identifies one of the eight canonical features. The numeric value is
// the feature's position in the classifier vector.
type Name int

const (
	StatusesCount Name = iota
	FollowersCount
	FriendsCount
	FavouritesCount
	ListedCount
	DefaultProfile
	Verified
	Protected
)

// Names lists the features in canonical vector order.
var Names = [Count]Name{
	StatusesCount,
	FollowersCount,
	FriendsCount,
	FavouritesCount,
	ListedCount,
	DefaultProfile,
	Verified,
	Protected,
}

var nameStrings = [Count]string{
	"statuses_count",
	"followers_count",
	"friends_count",
	"favourites_count",
	"listed_count",
	"default_profile",
	"verified",
	"protected",
}

func (n Name) String() string {
	if n < 0 || int(n) >= Count {
		return fmt.Sprintf("feature(%d)", int(n))
	}
	return nameStrings[n]
}

// IsBool reports whether the feature is a boolean flag rather than a count.
func (n Name) IsBool() bool {
	return n == DefaultProfile || n == Verified || n == Protected
}

// ParseName resolves the wire name of a feature.
func ParseName(s string) (Name, bool) {
	for i, v := range nameStrings {
		if v == s {
			return Name(i), true
		}
	}
	return 0, false
}

// Features holds one account's eight profile metrics.
type Features struct {
	StatusesCount   int64 `json:"statuses_count"`
	FollowersCount  int64 `json:"followers_count"`
	FriendsCount    int64 `json:"friends_count"`
	FavouritesCount int64 `json:"favourites_count"`
	ListedCount     int64 `json:"listed_count"`
	DefaultProfile  bool  `json:"default_profile"`
	Verified        bool  `json:"verified"`
	Protected       bool  `json:"protected"`
}

// FromMap builds Features from a name->value mapping. Booleans are expected as
// 0/1; any non-zero value counts as true. Keys outside the canonical set are ignored.
func FromMap(m map[string]float64) (Features, error) {
	var vec [Count]float64
	for _, n := range Names {
		v, ok := m[n.String()]
		if !ok {
			return Features{}, fmt.Errorf("%w: %s", ErrMissingFeature, n)
		}
		if err := checkValue(n, v); err != nil {
			return Features{}, err
		}
		vec[n] = v
	}
	return FromVector(vec), nil
}

func checkValue(n Name, v float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return fmt.Errorf("%w: %s is not a finite number", ErrInvalidFeature, n)
	case n.IsBool():
		return nil
	case v < 0:
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidFeature, n)
	case v != math.Trunc(v):
		return fmt.Errorf("%w: %s must be a whole number", ErrInvalidFeature, n)
	case v >= countLimit:
		return fmt.Errorf("%w: %s is out of range", ErrInvalidFeature, n)
	}
	return nil
}

// ValuesFromJSON converts a decoded JSON object into the mapping FromMap
// takes. Booleans become 0/1; any other non-number value is rejected.
func ValuesFromJSON(in map[string]any) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		switch x := v.(type) {
		case bool:
			out[k] = boolToFloat(x)
		case float64:
			out[k] = x
		default:
			return nil, fmt.Errorf("%w: %s must be a number or a boolean", ErrInvalidFeature, k)
		}
	}
	return out, nil
}

// FromVector is the inverse of Vector.
func FromVector(v [Count]float64) Features {
	return Features{
		StatusesCount:   int64(v[StatusesCount]),
		FollowersCount:  int64(v[FollowersCount]),
		FriendsCount:    int64(v[FriendsCount]),
		FavouritesCount: int64(v[FavouritesCount]),
		ListedCount:     int64(v[ListedCount]),
		DefaultProfile:  v[DefaultProfile] != 0,
		Verified:        v[Verified] != 0,
		Protected:       v[Protected] != 0,
	}
}

// Vector returns the features as a single row in canonical order.
func (f Features) Vector() [Count]float64 {
	return [Count]float64{
		float64(f.StatusesCount),
		float64(f.FollowersCount),
		float64(f.FriendsCount),
		float64(f.FavouritesCount),
		float64(f.ListedCount),
		boolToFloat(f.DefaultProfile),
		boolToFloat(f.Verified),
		boolToFloat(f.Protected),
	}
}

// Value returns a single feature as a float.
func (f Features) Value(n Name) float64 {
	v := f.Vector()
	return v[n]
}

// Map returns the features keyed by wire name.
func (f Features) Map() map[string]float64 {
	v := f.Vector()
	m := make(map[string]float64, Count)
	for _, n := range Names {
		m[n.String()] = v[n]
	}
	return m
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
