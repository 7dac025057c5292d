// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrTimeout is returned when the deadline passes before a full line of
// input arrives.
var ErrTimeout = errors.New("terminal: prompt timed out")

// Prompter reads lines from the locked terminal. The zero value prompts on
// stdin and writes prompt text to stderr.
type Prompter struct {
	// In is the input stream. Defaults to os.Stdin.
	In *os.File
	// Out receives prompt text and echoed newlines. Defaults to os.Stderr.
	Out io.Writer
}

func (p *Prompter) in() *os.File {
	if p.In != nil {
		return p.In
	}
	return os.Stdin
}

func (p *Prompter) out() io.Writer {
	if p.Out != nil {
		return p.Out
	}
	return os.Stderr
}

// Writer returns the stream prompt text is written to, for callers that
// need to print alongside the prompts.
func (p *Prompter) Writer() io.Writer {
	return p.out()
}

// Input returns the stream prompts read from.
func (p *Prompter) Input() *os.File {
	return p.in()
}

// Prompt writes msg and reads one line of input, without the trailing
// newline. A timeout greater than zero bounds the whole read; otherwise
// Prompt waits forever. When input ends before a newline the bytes read so
// far are returned, with io.EOF only if there were none.
func (p *Prompter) Prompt(msg string, timeout time.Duration) (string, error) {
	if msg != "" {
		fmt.Fprint(p.out(), msg)
	}
	return p.readLine(timeout)
}

// PromptEchoOff is Prompt with input echo suppressed, for passwords. Echo
// is restored on every path out, including timeouts and read errors, and
// the newline the user typed is echoed manually so the cursor moves on.
// When In is not a terminal it degrades to a plain Prompt.
func (p *Prompter) PromptEchoOff(msg string, timeout time.Duration) (line string, err error) {
	fd := int(p.in().Fd())
	if !term.IsTerminal(fd) {
		return p.Prompt(msg, timeout)
	}

	restore, err := echoOff(fd)
	if err != nil {
		return "", err
	}
	defer func() {
		if rerr := restore(); rerr != nil {
			fmt.Fprintf(p.out(), "\rwarning: %v\n", rerr)
			if err == nil {
				err = rerr
			}
		}
		fmt.Fprintln(p.out())
	}()

	if msg != "" {
		fmt.Fprint(p.out(), msg)
	}
	return p.readLine(timeout)
}

// readLine collects bytes up to a newline. With a positive timeout each
// read is gated on poll(2) against the remaining budget, so a signal that
// interrupts the wait resumes it rather than restarting it.
func (p *Prompter) readLine(timeout time.Duration) (string, error) {
	in := p.in()
	fd := int(in.Fd())

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	var line []byte
	buf := make([]byte, 1)
	for {
		if !deadline.IsZero() {
			ready, err := pollUntil(fd, deadline)
			if err != nil {
				return "", err
			}
			if !ready {
				return "", ErrTimeout
			}
		}

		n, err := in.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return string(line), nil
			}
			line = append(line, buf[0])
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(line) > 0 {
					return string(line), nil
				}
				return "", io.EOF
			}
			return "", fmt.Errorf("reading input: %w", err)
		}
	}
}

// pollUntil waits for fd to become readable, returning false once the
// deadline passes. EINTR recomputes the remaining budget and keeps
// waiting.
func pollUntil(fd int, deadline time.Time) (bool, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		ms := int(remaining.Milliseconds())
		if ms == 0 {
			ms = 1
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return false, fmt.Errorf("waiting for input: %w", err)
		case n == 0:
			continue
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return true, nil
		}
	}
}
