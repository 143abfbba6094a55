// Copyright 2025 Softwell S.r.l.
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

// Package mime resolves mimetypes from file extensions with support
// for custom registrations, so office formats resolve consistently
// across platforms.
package mime

import (
	gomime "mime"
	"path"
	"sync"
)

const defaultFallback = "application/octet-stream"

var (
	mu    sync.RWMutex
	mimes = map[string]string{
		".odt":  "application/vnd.oasis.opendocument.text",
		".ods":  "application/vnd.oasis.opendocument.spreadsheet",
		".odp":  "application/vnd.oasis.opendocument.presentation",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	}
)

// RegisterMime is a package level function that registers
// a mime type with the given extension.
func RegisterMime(ext, mime string) {
	mu.Lock()
	defer mu.Unlock()
	mimes[ext] = mime
}

// Detect returns the mimetype associated with the given filename.
func Detect(fn string) string {
	ext := path.Ext(fn)

	mu.RLock()
	mimeType := mimes[ext]
	mu.RUnlock()

	if mimeType == "" {
		mimeType = gomime.TypeByExtension(ext)
	}
	if mimeType == "" {
		mimeType = defaultFallback
	}
	return mimeType
}
