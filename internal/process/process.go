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

// Package process launches supervised children and guarantees their
// termination. Children either exec another program or run a function
// registered in this binary (re-executed with a marker in the
// environment).
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

var (
	// ErrNoProgram is returned when a spec names neither a program nor a
	// registered function.
	ErrNoProgram = errors.New("child spec names neither a program nor a function")

	// ErrAmbiguousProgram is returned when a spec names both.
	ErrAmbiguousProgram = errors.New("child spec names both a program and a function")
)

type redirectMode int

const (
	modeInherit redirectMode = iota
	modePipe
	modeDevNull
	modeFile
)

// Redirect selects what a child sees on one of its standard streams.
// The zero value inherits the parent's descriptor.
type Redirect struct {
	mode redirectMode
	file *os.File
}

// NoRedirect passes the parent's descriptor through unchanged.
func NoRedirect() Redirect { return Redirect{mode: modeInherit} }

// Pipe connects the stream to a pipe whose other end is handed to the
// caller on the Child.
func Pipe() Redirect { return Redirect{mode: modePipe} }

// DevNull binds the stream to the null device.
func DevNull() Redirect { return Redirect{mode: modeDevNull} }

// File duplicates the given descriptor onto the child's standard stream.
func File(f *os.File) Redirect { return Redirect{mode: modeFile, file: f} }

// ChildSpec describes a child to launch. Exactly one of Path or Func must
// be set.
type ChildSpec struct {
	// Path is the program to execute, with Args as its arguments
	// (excluding the program name itself).
	Path string
	Args []string

	// Func names a function child registered with RegisterFunc. The
	// current binary is re-executed and dispatches to the function
	// before anything else runs.
	Func string

	Stdin  Redirect
	Stdout Redirect
	Stderr Redirect

	// Env holds extra KEY=VALUE entries appended to the parent's
	// environment.
	Env []string

	// DropPrivileges runs the child with the real UID/GID when the
	// effective IDs differ, group applied before user.
	DropPrivileges bool
}

// Child is a handle on a launched child. The pipe fields are non-nil only
// for streams requested with Pipe.
type Child struct {
	PID    int
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	cmd *exec.Cmd
}

// Close releases the parent's ends of any pipes still open.
func (c *Child) Close() error {
	var first error
	for _, cl := range []io.Closer{c.Stdin, c.Stdout, c.Stderr} {
		if cl == nil {
			continue
		}
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Launch starts the child described by spec. On any failure every
// descriptor opened on the way is closed again; the caller never inherits
// half-built pipes.
func Launch(spec ChildSpec) (child *Child, err error) {
	cmd, err := command(spec)
	if err != nil {
		return nil, err
	}

	child = &Child{cmd: cmd}

	// Descriptors to close on failure, and the child-side pipe ends the
	// parent must not keep after a successful start.
	var opened, childEnds []*os.File
	defer func() {
		if err != nil {
			for _, f := range opened {
				f.Close()
			}
		}
	}()

	pipe := func() (r, w *os.File, perr error) {
		r, w, perr = os.Pipe()
		if perr != nil {
			return nil, nil, fmt.Errorf("creating pipe: %w", perr)
		}
		opened = append(opened, r, w)
		return r, w, nil
	}

	switch spec.Stdin.mode {
	case modeInherit:
		cmd.Stdin = os.Stdin
	case modeDevNull:
		// nil means the null device
	case modeFile:
		cmd.Stdin = spec.Stdin.file
	case modePipe:
		r, w, perr := pipe()
		if perr != nil {
			return nil, perr
		}
		cmd.Stdin = r
		child.Stdin = w
		childEnds = append(childEnds, r)
	}

	switch spec.Stdout.mode {
	case modeInherit:
		cmd.Stdout = os.Stdout
	case modeDevNull:
	case modeFile:
		cmd.Stdout = spec.Stdout.file
	case modePipe:
		r, w, perr := pipe()
		if perr != nil {
			return nil, perr
		}
		cmd.Stdout = w
		child.Stdout = r
		childEnds = append(childEnds, w)
	}

	switch spec.Stderr.mode {
	case modeInherit:
		cmd.Stderr = os.Stderr
	case modeDevNull:
	case modeFile:
		cmd.Stderr = spec.Stderr.file
	case modePipe:
		r, w, perr := pipe()
		if perr != nil {
			return nil, perr
		}
		cmd.Stderr = w
		child.Stderr = r
		childEnds = append(childEnds, w)
	}

	if spec.DropPrivileges {
		if cred := credentialFor(os.Getuid(), os.Geteuid(), os.Getgid(), os.Getegid()); cred != nil {
			cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting child: %w", err)
	}

	// The child owns these now.
	for _, f := range childEnds {
		f.Close()
	}

	child.PID = cmd.Process.Pid
	return child, nil
}

func command(spec ChildSpec) (*exec.Cmd, error) {
	switch {
	case spec.Path == "" && spec.Func == "":
		return nil, ErrNoProgram
	case spec.Path != "" && spec.Func != "":
		return nil, ErrAmbiguousProgram
	case spec.Func != "":
		if !funcRegistered(spec.Func) {
			return nil, fmt.Errorf("no child function registered as %q", spec.Func)
		}
		exe, err := os.Executable()
		if err != nil {
			exe = "/proc/self/exe"
		}
		cmd := exec.Command(exe)
		cmd.Env = append(append(os.Environ(), spec.Env...), childEnvKey+"="+spec.Func)
		return cmd, nil
	default:
		cmd := exec.Command(spec.Path, spec.Args...)
		if len(spec.Env) > 0 {
			cmd.Env = append(os.Environ(), spec.Env...)
		}
		return cmd, nil
	}
}

// credentialFor returns the credential for a privilege drop, or nil when
// the effective IDs already match the real ones. Go applies the group
// before the user when starting the child. Supplementary groups are kept:
// they belong to the invoking user, not to the elevated identity.
func credentialFor(uid, euid, gid, egid int) *syscall.Credential {
	if uid == euid && gid == egid {
		return nil
	}
	return &syscall.Credential{
		Uid:         uint32(uid),
		Gid:         uint32(gid),
		NoSetGroups: true,
	}
}
