//  Copyright 2015 by Leipzig University Library, http://ub.uni-leipzig.de
//                    The Finc Authors, http://finc.info
//                    Martin Czygan, <martin.czygan@uni-leipzig.de>
//
// This file is part of some open source application.
//
// Some open source application is free software: you can redistribute
// it and/or modify it under the terms of the GNU General Public
// License as published by the Free Software Foundation, either
// version 3 of the License, or (at your option) any later version.
//
// Some open source application is distributed in the hope that it will
// be useful, but WITHOUT ANY WARRANTY; without even the implied warranty
// of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Foobar.  If not, see <http://www.gnu.org/licenses/>.
//
// @license GPL-3.0+ <http://spdx.org/licenses/GPL-3.0+>

package harvester

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jinzhu/now"
)

const oneDay = 24 * time.Hour

// ErrInvalidDateRange is returned when from is after until, or batching lacks a from date.
var ErrInvalidDateRange = errors.New("invalid date range")

// Batch controls whether list requests are split into date windows. Some
// repositories time out on large result sets, smaller windows keep every
// single list request short.
type Batch string

const (
	BatchNone    Batch = ""
	BatchWeekly  Batch = "weekly"
	BatchMonthly Batch = "monthly"
)

// ParseBatch accepts none, weekly or monthly, case insensitive.
func ParseBatch(s string) (Batch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return BatchNone, nil
	case "weekly":
		return BatchWeekly, nil
	case "monthly":
		return BatchMonthly, nil
	}
	return BatchNone, errors.Newf("batch must be one of none, weekly or monthly, got %q", s)
}

// Window represent a span of time, from and until including.
type Window struct {
	From  time.Time
	Until time.Time
}

type TimeShiftFunc func(time.Time) time.Time

func (w Window) makeWindows(left, right TimeShiftFunc) ([]Window, error) {
	var ws []Window
	if w.From.After(w.Until) {
		return ws, ErrInvalidDateRange
	}
	var start, end time.Time
	from := w.From
	for {
		switch {
		case len(ws) == 0:
			start = now.New(w.From).BeginningOfDay()
		default:
			start = left(from)
		}
		end = right(from)
		if end.After(w.Until) {
			// discard end and use the end of day of until
			ws = append(ws, Window{From: start, Until: now.New(w.Until).EndOfDay()})
			break
		}
		ws = append(ws, Window{From: start, Until: end})
		from = end.Add(oneDay)
	}
	return ws, nil
}

func (w Window) Monthly() ([]Window, error) {
	shiftLeft := func(t time.Time) time.Time {
		return now.New(t).BeginningOfMonth()
	}
	shiftRight := func(t time.Time) time.Time {
		return now.New(t).EndOfMonth()
	}
	return w.makeWindows(shiftLeft, shiftRight)
}

func (w Window) Weekly() ([]Window, error) {
	shiftLeft := func(t time.Time) time.Time {
		return now.New(t).BeginningOfWeek()
	}
	shiftRight := func(t time.Time) time.Time {
		return now.New(t).EndOfWeek()
	}
	return w.makeWindows(shiftLeft, shiftRight)
}

// Split cuts the window according to the batch size. BatchNone yields the
// window itself.
func (w Window) Split(b Batch) ([]Window, error) {
	switch b {
	case BatchWeekly:
		return w.Weekly()
	case BatchMonthly:
		return w.Monthly()
	}
	if w.From.After(w.Until) {
		return nil, ErrInvalidDateRange
	}
	return []Window{w}, nil
}

// parseWindow turns from and until strings into a window. An empty until
// means today, an empty from cannot be windowed.
func parseWindow(from, until string, today time.Time) (Window, error) {
	var w Window
	if from == "" {
		return w, errors.Wrap(ErrInvalidDateRange, "batching requires a from date")
	}
	f, err := now.Parse(from)
	if err != nil {
		return w, errors.Wrapf(err, "parse from date %q", from)
	}
	u := today
	if until != "" {
		if u, err = now.Parse(until); err != nil {
			return w, errors.Wrapf(err, "parse until date %q", until)
		}
	}
	return Window{From: f, Until: u}, nil
}
