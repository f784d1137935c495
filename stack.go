package sigplay

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
)

// StackTrace is a captured goroutine stack, innermost frame first.
type StackTrace struct {
	Frames []StackFrame
}

type StackFrame struct {
	Function string
	File     string
	Line     int
}

// PanicError is the join failure reported for a worker whose [Task] panicked.
type PanicError struct {
	Label string
	Value any
	Stack StackTrace
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker %q panicked: %v", e.Label, e.Value)
}

// GetStackTrace captures the calling goroutine's stack, leaving out the innermost skip frames
// (not counting GetStackTrace itself).
func GetStackTrace(skip uint) StackTrace {
	return StackTrace{Frames: getFrames(skip + 1)}
}

func (st StackTrace) String() string {
	if len(st.Frames) == 0 {
		return "<empty stack>\n"
	}

	var buf []byte
	for _, f := range st.Frames {
		if f.Function == "" {
			buf = append(buf, "<unknown function>"...)
		} else {
			buf = append(buf, f.Function...)
			buf = append(buf, "(...)"...)
		}
		buf = append(buf, "\n\t"...)

		if f.File == "" {
			buf = append(buf, "<unknown file>"...)
		} else {
			buf = append(buf, f.File...)
			if f.Line != 0 {
				buf = append(buf, ':')
				buf = strconv.AppendInt(buf, int64(f.Line), 10)
			}
		}
		buf = append(buf, '\n')
	}
	return string(buf)
}

var pcBufPool = sync.Pool{
	New: func() any {
		buf := make([]uintptr, 64)
		return &buf
	},
}

func getFrames(skip uint) []StackFrame {
	skip += 2 // getFrames and runtime.Callers

	pcBuf := pcBufPool.Get().(*[]uintptr)
	defer func() {
		if len(*pcBuf) <= 1024 {
			pcBufPool.Put(pcBuf)
		}
	}()

	// grow the buffer until the whole stack fits
	var pc []uintptr
	for {
		n := runtime.Callers(int(skip), *pcBuf)
		if n < len(*pcBuf) {
			pc = (*pcBuf)[:n]
			break
		}
		*pcBuf = make([]uintptr, 2*len(*pcBuf))
	}
	if len(pc) == 0 {
		return nil
	}

	framesIter := runtime.CallersFrames(pc)
	var frames []StackFrame
	for more := true; more; {
		var frame runtime.Frame
		frame, more = framesIter.Next()
		frames = append(frames, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
	}
	return frames
}
