/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fake

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// HTTPResponse scripts one fake response.
type HTTPResponse struct {
	Status int
	Body   string
	Header map[string]string
	Err    error
}

// HTTPFetcher is a scriptable gateways.HTTPFetcher keyed by method and URL.
// Unscripted requests 404.
type HTTPFetcher struct {
	mu        sync.Mutex
	Responses map[string]HTTPResponse
	Requests  []*http.Request
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Responses: map[string]HTTPResponse{}}
}

func (f *HTTPFetcher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses = map[string]HTTPResponse{}
	f.Requests = nil
}

// Script installs a response for method+url.
func (f *HTTPFetcher) Script(method, url string, response HTTPResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[method+" "+url] = response
}

func (f *HTTPFetcher) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	scripted, ok := f.Responses[req.Method+" "+req.URL.String()]
	if !ok {
		scripted = HTTPResponse{Status: http.StatusNotFound}
	}
	if scripted.Err != nil {
		return nil, scripted.Err
	}
	header := http.Header{}
	for name, value := range scripted.Header {
		header.Set(name, value)
	}
	return &http.Response{
		StatusCode: scripted.Status,
		Status:     fmt.Sprintf("%d %s", scripted.Status, http.StatusText(scripted.Status)),
		Body:       io.NopCloser(strings.NewReader(scripted.Body)),
		Header:     header,
		Request:    req,
	}, nil
}

// CallCount returns how many requests matched method+url.
func (f *HTTPFetcher) CallCount(method, url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, req := range f.Requests {
		if req.Method == method && req.URL.String() == url {
			count++
		}
	}
	return count
}
