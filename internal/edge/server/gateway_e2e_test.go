package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/valyala/fasthttp"
)

var _ = Describe("Gateway over HTTP", func() {
	var (
		g       *gateway
		baseURL string
		client  *http.Client
	)

	get := func(path string, headers ...string) (*http.Response, string) {
		req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
		Expect(err).NotTo(HaveOccurred())
		req.Host = "example.com"
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		resp, err := client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, string(body)
	}

	BeforeEach(func() {
		g = newGateway(GinkgoT())

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		srv := &fasthttp.Server{Handler: g.server.HandleRequest}
		go func() { _ = srv.Serve(listener) }()
		DeferCleanup(func() { _ = srv.Shutdown() })

		baseURL = "http://" + listener.Addr().String()
		client = &http.Client{Timeout: 5 * time.Second}
	})

	It("renders once and then serves the stored page", func() {
		resp, first := get("/about/")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("X-Cache")).To(Equal("MISS"))

		resp, second := get("/about/")
		Expect(resp.Header.Get("X-Cache")).To(Equal("HIT"))
		Expect(second).To(Equal(first))
		Expect(g.calls.Load()).To(BeEquivalentTo(1))
	})

	It("drops every page when a post is saved", func() {
		get("/")
		get("/about/")

		removed, err := g.cache.OnPostSaved(context.Background(), 7, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(2))

		resp, _ := get("/about/")
		Expect(resp.Header.Get("X-Cache")).To(Equal("MISS"))
	})

	It("keeps pages when only a revision is saved", func() {
		get("/about/")

		removed, err := g.cache.OnPostSaved(context.Background(), 8, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeZero())

		resp, _ := get("/about/")
		Expect(resp.Header.Get("X-Cache")).To(Equal("HIT"))
	})

	It("never caches pages for logged in visitors", func() {
		resp, _ := get("/", "Cookie", "wordpress_logged_in_123=editor")
		Expect(resp.Header.Get("X-Cache")).To(Equal("BYPASS"))

		resp, _ = get("/")
		Expect(resp.Header.Get("X-Cache")).To(Equal("MISS"))
	})

	It("revalidates with the entity tag", func() {
		resp, _ := get("/")
		etag := resp.Header.Get("ETag")
		Expect(etag).NotTo(BeEmpty())

		resp, body := get("/", "If-None-Match", etag)
		Expect(resp.StatusCode).To(Equal(http.StatusNotModified))
		Expect(body).To(BeEmpty())
	})

	It("serves the minified stylesheet it linked", func() {
		_, page := get("/")
		Expect(page).To(ContainSubstring("/wp-content/uploads/adminx-optimized/css/"))

		idx := strings.Index(page, siteURL+"/wp-content/uploads/adminx-optimized/css/")
		Expect(idx).To(BeNumerically(">=", 0))
		end := idx + strings.Index(page[idx:], `"`)
		path := page[idx+len(siteURL) : end]

		resp, css := get(path)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(css).To(Equal("body{color:red}"))
	})
})
