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

//go:build nopam

package auth

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"
	"golang.org/x/crypto/bcrypt"

	"github.com/lollipopman/vlock/internal/terminal"
)

// shadowPath is the local shadow database. Reading it requires the
// process to run as root or in the shadow group.
const shadowPath = "/etc/shadow"

var (
	errBadPassword = errors.New("password does not match")
	errLocked      = errors.New("account is locked")
)

// Authenticate verifies user's password against the shadow database,
// prompting on p. A nil error means the password matched; otherwise the
// *Error kind tells a rejection apart from a broken setup such as an
// unreadable database or an unsupported hash format.
func Authenticate(user string, p *terminal.Prompter, timeout time.Duration) error {
	if user == "" {
		return failed(errors.New("no user to authenticate"))
	}

	hash, err := lookupHash(shadowPath, user)
	if err != nil {
		return failed(err)
	}

	fmt.Fprintf(p.Writer(), "%s's ", user)
	password, err := p.PromptEchoOff("Password: ", timeout)
	if err != nil {
		return denied(fmt.Errorf("reading password: %w", err))
	}

	return verifyHash(hash, password)
}

// lookupHash returns the password field of user's shadow entry.
func lookupHash(path, user string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening shadow database: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 2 || fields[0] != user {
			continue
		}
		return fields[1], nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("reading shadow database: %w", err)
	}
	return "", fmt.Errorf("no shadow entry for %q", user)
}

// verifyHash checks password against a shadow hash field. An empty field
// means the account has no password and anything unlocks it, matching
// login's behavior.
func verifyHash(hash, password string) error {
	switch {
	case hash == "":
		return nil
	case strings.HasPrefix(hash, "!"), strings.HasPrefix(hash, "*"):
		return denied(errLocked)
	}

	if strings.HasPrefix(hash, "$2") {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
			return denied(errBadPassword)
		}
		return nil
	}

	var c crypt.Crypter
	switch {
	case strings.HasPrefix(hash, sha512_crypt.MagicPrefix):
		c = sha512_crypt.New()
	case strings.HasPrefix(hash, sha256_crypt.MagicPrefix):
		c = sha256_crypt.New()
	case strings.HasPrefix(hash, md5_crypt.MagicPrefix):
		c = md5_crypt.New()
	default:
		// Newer formats like yescrypt need the real PAM stack.
		return failed(fmt.Errorf("unsupported password hash format"))
	}

	if err := c.Verify(hash, []byte(password)); err != nil {
		if errors.Is(err, crypt.ErrKeyMismatch) {
			return denied(errBadPassword)
		}
		return failed(fmt.Errorf("verifying password: %w", err))
	}
	return nil
}
