package update

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDigitVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1.2.3", 123, false},
		{"1.10.0", 1100, false},
		{"0.0.1", 1, false},
		{" 2.0.0 ", 200, false},
		{"1.3.0-beta", 130, false},
		{"1.2.3.4.5.6.7.8.9.10.11.12.13.14.15.16.17.18.19.20", math.MaxInt64, false},
		{"v1.2.3", 0, true},
		{"dev", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DigitVersion(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDigitComparator(t *testing.T) {
	tests := []struct {
		local, remote string
		want          bool
	}{
		{"1.2.0", "1.3.0", true},
		{"1.3.0", "1.3.0", false},
		{"1.3.0", "1.2.0", false},
		{"1.9.9", "1.10.0", true},
		// Digit concatenation: "1.10" is 110, lower than 190.
		{"1.9.0", "1.10", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_vs_%s", tt.local, tt.remote), func(t *testing.T) {
			got, err := DigitComparator.IsNewer(tt.local, tt.remote)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDigitComparator_InvalidVersions(t *testing.T) {
	_, err := DigitComparator.IsNewer("1.0.0", "latest")
	assert.ErrorContains(t, err, "remote version")

	_, err = DigitComparator.IsNewer("dev", "1.0.0")
	assert.ErrorContains(t, err, "local version")
}

func TestSemverComparator(t *testing.T) {
	newer, err := SemverComparator.IsNewer("1.9.0", "1.10.0")
	require.NoError(t, err)
	assert.True(t, newer)

	newer, err = SemverComparator.IsNewer("v2.0.0", "2.0.0")
	require.NoError(t, err)
	assert.False(t, newer)

	newer, err = SemverComparator.IsNewer("1.0.0", "1.0.1-rc.1")
	require.NoError(t, err)
	assert.True(t, newer)

	_, err = SemverComparator.IsNewer("dev", "1.0.0")
	assert.Error(t, err)
}

func TestComparatorByName(t *testing.T) {
	c, err := ComparatorByName("")
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = ComparatorByName(CompareSemver)
	require.NoError(t, err)

	_, err = ComparatorByName("calver")
	assert.Error(t, err)
}

func TestIsReleaseVersion(t *testing.T) {
	assert.True(t, IsReleaseVersion("1.2.3"))
	assert.True(t, IsReleaseVersion("v1.2.3"))
	assert.False(t, IsReleaseVersion("dev"))
	assert.False(t, IsReleaseVersion(""))
}

// Remote is newer exactly when its digit concatenation is larger.
func TestDigitComparator_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := [3]int{rapid.IntRange(0, 9).Draw(t, "lmaj"), rapid.IntRange(0, 9).Draw(t, "lmin"), rapid.IntRange(0, 9).Draw(t, "lpatch")}
		r := [3]int{rapid.IntRange(0, 9).Draw(t, "rmaj"), rapid.IntRange(0, 9).Draw(t, "rmin"), rapid.IntRange(0, 9).Draw(t, "rpatch")}
		local := fmt.Sprintf("%d.%d.%d", l[0], l[1], l[2])
		remote := fmt.Sprintf("%d.%d.%d", r[0], r[1], r[2])

		newer, err := DigitComparator.IsNewer(local, remote)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := r[0]*100+r[1]*10+r[2] > l[0]*100+l[1]*10+l[2]
		if newer != want {
			t.Fatalf("IsNewer(%s, %s) = %v, want %v", local, remote, newer, want)
		}

		back, err := DigitComparator.IsNewer(remote, local)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if newer && back {
			t.Fatalf("both %s and %s report the other as newer", local, remote)
		}
	})
}
