package antidetect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// stealthScript is evaluated on every new document before the page's own
// scripts run. It removes the automation marker and patches the probes
// pages commonly check.
const stealthScript = `
(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

  if (!window.chrome) {
    window.chrome = { runtime: {}, loadTimes: () => ({}), csi: () => ({}) };
  }

  const origQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
  window.navigator.permissions.query = (params) =>
    params.name === 'notifications'
      ? Promise.resolve({ state: Notification.permission })
      : origQuery(params);

  Object.defineProperty(navigator, 'languages', { get: () => %s });
  Object.defineProperty(navigator, 'platform', { get: () => %q });
  Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
  Object.defineProperty(navigator, 'deviceMemory', { get: () => %d });

  const getParameter = WebGLRenderingContext.prototype.getParameter;
  WebGLRenderingContext.prototype.getParameter = function (param) {
    if (param === 37445) return %q;
    if (param === 37446) return %q;
    return getParameter.call(this, param);
  };

  const noise = %g;
  const toDataURL = HTMLCanvasElement.prototype.toDataURL;
  HTMLCanvasElement.prototype.toDataURL = function (...args) {
    const ctx = this.getContext('2d');
    if (ctx && this.width > 0 && this.height > 0) {
      const d = ctx.getImageData(0, 0, this.width, this.height);
      for (let i = 0; i < d.data.length; i += 97) {
        d.data[i] = Math.min(255, d.data[i] + Math.floor(noise * 255));
      }
      ctx.putImageData(d, 0, 0);
    }
    return toDataURL.apply(this, args);
  };
})();
`

// Apply installs the profile into a chromedp session: the init script,
// the user agent override, extra headers, viewport, and timezone.
func Apply(ctx context.Context, p *Profile) error {
	langs, err := json.Marshal(p.Fingerprint.Languages)
	if err != nil {
		return eris.Wrap(err, "antidetect: encode languages")
	}

	script := fmt.Sprintf(stealthScript,
		string(langs),
		p.Fingerprint.Platform,
		p.Fingerprint.HardwareConcurrency,
		p.Fingerprint.DeviceMemory,
		p.Fingerprint.WebGLVendor,
		p.Fingerprint.WebGLRenderer,
		p.Fingerprint.CanvasNoise,
	)

	headers := network.Headers{}
	for k, v := range p.Headers {
		headers[k] = v
	}

	err = chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(p.Headers["Accept-Language"]).
			WithPlatform(p.Fingerprint.Platform),
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		emulation.SetDeviceMetricsOverride(int64(p.Viewport.Width), int64(p.Viewport.Height), 1.0, false),
		emulation.SetTimezoneOverride(p.Fingerprint.Timezone),
	)
	if err != nil {
		return eris.Wrap(err, "antidetect: apply profile")
	}
	return nil
}

// AllocatorOptions returns chrome launch flags that suppress the obvious
// automation giveaways.
func AllocatorOptions(p *Profile, headless bool) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.UserAgent(p.UserAgent),
		chromedp.WindowSize(p.Viewport.Width, p.Viewport.Height),
	)
	return opts
}
