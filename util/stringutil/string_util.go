/*
 * Copyright 2020-2021 the original author(https://github.com/wj596)
 *
 * <p>
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 * </p>
 */
package stringutil

import (
	"strings"

	"github.com/satori/go.uuid"
)

// 产生UUID
func UUID() string {
	return strings.ReplaceAll(uuid.NewV4().String(), "-", "")
}

// ShortID 8位短标识，用于节点名后缀
func ShortID() string {
	return UUID()[:8]
}

// WildcardMatch reports whether name matches pattern. Only the '*' wildcard
// is supported; a pattern without '*' must match the whole name exactly.
func WildcardMatch(pattern, name string) bool {
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	if !strings.HasSuffix(name, parts[len(parts)-1]) {
		return false
	}

	rest := name[len(parts[0]):]
	for _, p := range parts[1 : len(parts)-1] {
		if p == "" {
			continue
		}
		idx := strings.Index(rest, p)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(p):]
	}
	return true
}
