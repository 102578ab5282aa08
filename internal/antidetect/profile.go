// Package antidetect generates coherent browser identities and drives
// humanized page interaction over chromedp.
package antidetect

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Viewport is a browser window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fingerprint is the set of properties a page can probe. Every field is
// always populated; an empty value is itself a detection signal.
type Fingerprint struct {
	CanvasNoise         float64  `json:"canvas_noise"`
	WebGLVendor         string   `json:"webgl_vendor"`
	WebGLRenderer       string   `json:"webgl_renderer"`
	Timezone            string   `json:"timezone"`
	Languages           []string `json:"languages"`
	Platform            string   `json:"platform"`
	HardwareConcurrency int      `json:"hardware_concurrency"`
	DeviceMemory        int      `json:"device_memory"`
	ScreenWidth         int      `json:"screen_width"`
	ScreenHeight        int      `json:"screen_height"`
	ColorDepth          int      `json:"color_depth"`
}

// Profile is one complete browser identity.
type Profile struct {
	UserAgent   string            `json:"user_agent"`
	Viewport    Viewport          `json:"viewport"`
	Headers     map[string]string `json:"headers"`
	Fingerprint Fingerprint       `json:"fingerprint"`
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
}

var viewports = []Viewport{
	{1920, 1080},
	{1680, 1050},
	{1536, 864},
	{1440, 900},
	{1366, 768},
}

type gpuPair struct {
	vendor   string
	renderer string
}

var gpus = []gpuPair{
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

var timezones = []string{
	"America/Phoenix",
	"America/Denver",
	"America/Los_Angeles",
	"America/Chicago",
}

var languageSets = [][]string{
	{"en-US", "en"},
	{"en-US", "en", "es"},
}

var concurrencies = []int{4, 8, 12, 16}
var memories = []int{4, 8, 16}

// Generator produces randomized but internally consistent profiles.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator seeds a generator. A fixed seed gives a reproducible
// profile sequence for tests.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Next builds a fresh profile. The platform and GPU are picked to agree
// with the user agent string.
func (g *Generator) Next() *Profile {
	g.mu.Lock()
	defer g.mu.Unlock()

	ua := userAgents[g.rng.Intn(len(userAgents))]
	vp := viewports[g.rng.Intn(len(viewports))]
	gpu := gpus[g.rng.Intn(len(gpus))]
	langs := languageSets[g.rng.Intn(len(languageSets))]

	platform := "Win32"
	switch {
	case strings.Contains(ua, "Macintosh"):
		platform = "MacIntel"
	case strings.Contains(ua, "Linux"):
		platform = "Linux x86_64"
	}

	fp := Fingerprint{
		CanvasNoise:         0.0001 + g.rng.Float64()*0.0009,
		WebGLVendor:         gpu.vendor,
		WebGLRenderer:       gpu.renderer,
		Timezone:            timezones[g.rng.Intn(len(timezones))],
		Languages:           langs,
		Platform:            platform,
		HardwareConcurrency: concurrencies[g.rng.Intn(len(concurrencies))],
		DeviceMemory:        memories[g.rng.Intn(len(memories))],
		ScreenWidth:         vp.Width,
		ScreenHeight:        vp.Height + 40,
		ColorDepth:          24,
	}

	headers := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": acceptLanguage(langs),
		"Accept-Encoding": "gzip, deflate, br",
		"Sec-Fetch-Dest":  "document",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "none",
		"Sec-Fetch-User":  "?1",
	}

	return &Profile{
		UserAgent:   ua,
		Viewport:    vp,
		Headers:     headers,
		Fingerprint: fp,
	}
}

func acceptLanguage(langs []string) string {
	out := ""
	for i, l := range langs {
		if i == 0 {
			out = l
			continue
		}
		out += fmt.Sprintf(",%s;q=0.%d", l, 9-i)
	}
	return out
}
