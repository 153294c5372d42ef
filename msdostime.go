// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package livezip

import "time"

// epoch is the minimum representable MS-DOS time: 1980-01-01 00:00:00.
var epoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// timeToMsDosTime converts a time.Time to an MS-DOS date and time.
// The resolution is 2s.
// See: https://msdn.microsoft.com/en-us/library/ms724274(v=VS.85).aspx
func timeToMsDosTime(t time.Time) (fDate uint16, fTime uint16) {
	if t.Before(epoch) {
		t = epoch
	}
	fDate = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

// msDosTimeToTime converts an MS-DOS date and time to a time.Time in UTC.
func msDosTimeToTime(fDate, fTime uint16) time.Time {
	return time.Date(
		int(fDate>>9)+1980,
		time.Month(fDate>>5&0xf),
		int(fDate&0x1f),
		int(fTime>>11),
		int(fTime>>5&0x3f),
		int(fTime&0x1f)*2,
		0,
		time.UTC,
	)
}
