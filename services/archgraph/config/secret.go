// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"
)

// Secret holds a credential sealed in an encrypted memguard enclave. The
// plaintext exists only inside Use callbacks.
//
// Thread Safety: Safe for concurrent use after loading.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. The zero value is an unset secret.
func NewSecret(value string) Secret {
	if value == "" {
		return Secret{}
	}
	return Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// IsSet reports whether the secret holds a value.
func (s Secret) IsSet() bool {
	return s.enclave != nil
}

// Use opens the enclave and calls fn with the plaintext. The buffer is
// destroyed when fn returns, so a client that keeps the value must be given
// a copy (strings.Clone).
func (s Secret) Use(fn func(value string) error) error {
	if s.enclave == nil {
		return fn("")
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("opening secret: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// String redacts the value.
func (s Secret) String() string {
	if s.enclave == nil {
		return ""
	}
	return "[redacted]"
}

// UnmarshalYAML seals a scalar value.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = NewSecret(raw)
	return nil
}

// MarshalYAML never writes the plaintext.
func (s Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}
