// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
)

// handleCompression compresses responses for clients which accept it
func (b *Backend) handleCompression() {
	compressionMiddleware := func(h http.Handler) http.Handler {
		return handlers.CompressHandler(h)
	}
	b.router.Use(compressionMiddleware)
}

// requestBody returns the request body, decompressed if the client sent it gzip encoded.
// The returned function closes the decompressor.
func requestBody(r *http.Request) (io.Reader, func(), error) {
	if r.Header.Get("Content-Encoding") != "gzip" {
		return r.Body, func() {}, nil
	}
	zr, err := gzip.NewReader(r.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid gzipped json data: %w", err)
	}
	return zr, func() { zr.Close() }, nil
}
