package spoof

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-orchestrator/internal/models"
)

// browserStubs stands in for the host objects the patch program touches
const browserStubs = `
function Navigator() {}
Object.defineProperty(Navigator.prototype, 'platform', {
  get: function () { return 'Linux x86_64'; }, configurable: true, enumerable: true
});
Object.defineProperty(Navigator.prototype, 'hardwareConcurrency', {
  get: function () { return 64; }, configurable: true, enumerable: true
});
var navigator = new Navigator();
Object.defineProperty(navigator, 'webdriver', { value: true, configurable: true });

function Screen() {}
var screen = new Screen();
var document = {};

function WebGLRenderingContext() {}
WebGLRenderingContext.prototype.getParameter = function getParameter(p) { return 'host-' + p; };
function WebGL2RenderingContext() {}
WebGL2RenderingContext.prototype.getParameter = function getParameter(p) { return 'host2-' + p; };

function CanvasRenderingContext2D(pixels) { this.pixels = pixels; }
CanvasRenderingContext2D.prototype.getImageData = function getImageData(x, y, w, h) {
  return { data: new Uint8ClampedArray(this.pixels) };
};

function AudioBuffer(samples) { this.samples = samples; }
AudioBuffer.prototype.getChannelData = function getChannelData(channel) { return this.samples; };

function RTCPeerConnection() { this.listeners = []; }
RTCPeerConnection.prototype.addEventListener = function addEventListener(type, fn) {
  this.listeners.push(fn);
};
RTCPeerConnection.prototype.removeEventListener = function removeEventListener(type, fn) {
  this.listeners = this.listeners.filter(function (l) { return l !== fn; });
};
RTCPeerConnection.prototype.emit = function (line) {
  var event = { candidate: { candidate: line } };
  this.listeners.forEach(function (l) { l(event); });
};

Date.prototype.toLocaleString = function toLocaleString(locales, options) {
  return JSON.stringify({ locale: locales, timeZone: options && options.timeZone });
};

var Intl = {
  DateTimeFormat: function DateTimeFormat(locales, options) {
    this.locale = locales;
    this.options = options || {};
  }
};
Intl.DateTimeFormat.prototype.resolvedOptions = function resolvedOptions() {
  return { locale: this.locale, timeZone: this.options.timeZone };
};
Intl.DateTimeFormat.prototype.formatToParts = function formatToParts(date) {
  if (this.options.timeZone === 'Asia/Tokyo' && this.options.timeZoneName === 'long') {
    return [{ type: 'timeZoneName', value: 'Japan Standard Time' }];
  }
  return [];
};
Intl.DateTimeFormat.supportedLocalesOf = function supportedLocalesOf() { return []; };

Navigator.prototype.getBattery = function getBattery() {
  return Promise.resolve({ level: 0.42, charging: false });
};

function MediaDevices() {}
MediaDevices.prototype.enumerateDevices = function enumerateDevices() {
  return Promise.resolve([{ deviceId: 'host-camera', kind: 'videoinput', label: 'FaceTime HD Camera', groupId: 'g1' }]);
};
navigator.mediaDevices = new MediaDevices();

function Permissions() {}
Permissions.prototype.query = function query(descriptor) {
  return Promise.resolve({ name: descriptor.name, state: 'granted' });
};
var Notification = { permission: 'denied' };

this.$cdc_asdjflasutopfhvcZLmcfl_ = true;
this.domAutomation = {};
document.$cdc_xyz = 1;
document.__webdriver_evaluate = 1;
`

func runPatch(t *testing.T, params models.SpoofParameters) *goja.Runtime {
	t.Helper()
	bundle, err := newTestSynthesizer(t, false).Render(params)
	require.NoError(t, err)

	vm := goja.New()
	_, err = vm.RunString(browserStubs)
	require.NoError(t, err)
	_, err = vm.RunString(string(bundle.Program))
	require.NoError(t, err)
	return vm
}

func evalJS(t *testing.T, vm *goja.Runtime, script string) goja.Value {
	t.Helper()
	v, err := vm.RunString(script)
	require.NoError(t, err, script)
	return v
}

func TestPatchNavigator(t *testing.T) {
	vm := runPatch(t, testParams())

	assert.Equal(t, "Win32", evalJS(t, vm, `navigator.platform`).String())
	assert.EqualValues(t, 12, evalJS(t, vm, `navigator.hardwareConcurrency`).ToInteger())
	assert.EqualValues(t, 8, evalJS(t, vm, `navigator.deviceMemory`).ToInteger())
	assert.Equal(t, testParams().UserAgent, evalJS(t, vm, `navigator.userAgent`).String())
	assert.Equal(t, `["ja-JP","ja","en-US","en"]`, evalJS(t, vm, `JSON.stringify(navigator.languages)`).String())
	assert.True(t, evalJS(t, vm, `Object.isFrozen(navigator.languages) && navigator.languages === navigator.languages`).ToBoolean())
	assert.Equal(t, "Google Inc.", evalJS(t, vm, `navigator.vendor`).String())

	assert.False(t, evalJS(t, vm, `navigator.webdriver`).ToBoolean())
	assert.False(t, evalJS(t, vm, `Object.prototype.hasOwnProperty.call(navigator, 'webdriver')`).ToBoolean())
}

func TestPatchRemovesAutomationMarkers(t *testing.T) {
	vm := runPatch(t, testParams())

	assert.Equal(t, "undefined", evalJS(t, vm, `typeof domAutomation`).String())
	assert.False(t, evalJS(t, vm, `'$cdc_asdjflasutopfhvcZLmcfl_' in this`).ToBoolean())
	assert.False(t, evalJS(t, vm, `'$cdc_xyz' in document || '__webdriver_evaluate' in document`).ToBoolean())
}

func TestPatchedFunctionsLookNative(t *testing.T) {
	vm := runPatch(t, testParams())

	tests := map[string]string{
		`Function.prototype.toString.call(Object.getOwnPropertyDescriptor(Navigator.prototype, 'platform').get)`: "function get platform() { [native code] }",
		`WebGLRenderingContext.prototype.getParameter.toString()`:                                                "function getParameter() { [native code] }",
		`String(WebGL2RenderingContext.prototype.getParameter)`:                                                  "function getParameter() { [native code] }",
		`Function.prototype.toString.toString()`:                                                                 "function toString() { [native code] }",
		`Date.prototype.getTimezoneOffset.toString()`:                                                            "function getTimezoneOffset() { [native code] }",
		`Date.prototype.toLocaleDateString.toString()`:                                                           "function toLocaleDateString() { [native code] }",
		`Date.prototype.getHours.toString()`:                                                                     "function getHours() { [native code] }",
		`Date.prototype.setFullYear.toString()`:                                                                  "function setFullYear() { [native code] }",
		`Date.prototype.toString.toString()`:                                                                     "function toString() { [native code] }",
		`Date.prototype.toTimeString.toString()`:                                                                 "function toTimeString() { [native code] }",
		`Intl.DateTimeFormat.toString()`:                                                                         "function DateTimeFormat() { [native code] }",
		`navigator.getBattery.toString()`:                                                                        "function getBattery() { [native code] }",
		`MediaDevices.prototype.enumerateDevices.toString()`:                                                     "function enumerateDevices() { [native code] }",
		`Permissions.prototype.query.toString()`:                                                                 "function query() { [native code] }",
		`CanvasRenderingContext2D.prototype.getImageData.toString()`:                                             "function getImageData() { [native code] }",
		`RTCPeerConnection.prototype.addEventListener.toString()`:                                                "function addEventListener() { [native code] }",
		`navigator.userAgentData.getHighEntropyValues.toString()`:                                                "function getHighEntropyValues() { [native code] }",
		`WebGLRenderingContext.prototype.getParameter.name`:                                                      "getParameter",
	}
	for script, want := range tests {
		assert.Equal(t, want, evalJS(t, vm, script).String(), script)
	}

	assert.EqualValues(t, 1, evalJS(t, vm, `WebGLRenderingContext.prototype.getParameter.length`).ToInteger())
	// untouched functions still report their own source
	assert.Contains(t, evalJS(t, vm, `(function answer() { return 41 + 1; }).toString()`).String(), "41 + 1")
}

func TestPatchWebGLBothContexts(t *testing.T) {
	p := testParams()
	vm := runPatch(t, p)

	for _, ctor := range []string{"WebGLRenderingContext", "WebGL2RenderingContext"} {
		gl := "new " + ctor + "()"
		assert.Equal(t, p.WebGLVendor, evalJS(t, vm, gl+".getParameter(37445)").String())
		assert.Equal(t, p.WebGLRenderer, evalJS(t, vm, gl+".getParameter(37446)").String())
		assert.Equal(t, p.WebGLVendor, evalJS(t, vm, gl+".getParameter(7936)").String())
		assert.Equal(t, p.WebGLRenderer, evalJS(t, vm, gl+".getParameter(7937)").String())
	}
	assert.Equal(t, p.WebGLVersion, evalJS(t, vm, `new WebGLRenderingContext().getParameter(7938)`).String())
	assert.Equal(t, "host2-7938", evalJS(t, vm, `new WebGL2RenderingContext().getParameter(7938)`).String())
	assert.Equal(t, "host-3379", evalJS(t, vm, `new WebGLRenderingContext().getParameter(3379)`).String())
}

func TestPatchTimezone(t *testing.T) {
	vm := runPatch(t, testParams())

	assert.EqualValues(t, -540, evalJS(t, vm, `new Date(0).getTimezoneOffset()`).ToInteger())
	assert.EqualValues(t, -540, evalJS(t, vm, `new Date(2024, 6, 1).getTimezoneOffset()`).ToInteger())
	assert.True(t, evalJS(t, vm, `isNaN(new Date(NaN).getTimezoneOffset())`).ToBoolean())
}

func TestPatchLocalDateFieldsFollowZone(t *testing.T) {
	vm := runPatch(t, testParams())

	// 1970-01-01T00:00Z is 09:00 on a Thursday in Tokyo
	assert.Equal(t, "[1970,0,1,4,9,0,0]", evalJS(t, vm,
		`var d = new Date(0); JSON.stringify([d.getFullYear(), d.getMonth(), d.getDate(), d.getDay(), d.getHours(), d.getMinutes(), d.getSeconds()])`).String())

	// 2024-01-31T20:30Z has already rolled over to Thursday 1 February
	assert.Equal(t, "[2024,1,1,4,5,30]", evalJS(t, vm,
		`var d = new Date(Date.UTC(2024, 0, 31, 20, 30)); JSON.stringify([d.getFullYear(), d.getMonth(), d.getDate(), d.getDay(), d.getHours(), d.getMinutes()])`).String())

	// every local field agrees with the reported offset
	assert.True(t, evalJS(t, vm, `
var ok = true;
for (var h = 0; h < 24; h++) {
  var d = new Date(Date.UTC(2024, 5, 15, h, 7));
  if (d.getHours() !== (d.getUTCHours() - d.getTimezoneOffset() / 60 + 24) % 24) ok = false;
}
ok`).ToBoolean())
}

func TestPatchLocalDateSettersFollowZone(t *testing.T) {
	vm := runPatch(t, testParams())

	assert.EqualValues(t, -9*3600*1000, evalJS(t, vm, `var d = new Date(0); d.setHours(0, 0, 0); d.getTime()`).ToInteger())
	assert.Equal(t, "[1970,0,15,0]", evalJS(t, vm,
		`d.setDate(15); JSON.stringify([d.getFullYear(), d.getMonth(), d.getDate(), d.getHours()])`).String())

	assert.Equal(t, "[2020,0,1,0]", evalJS(t, vm,
		`var revived = new Date(NaN); revived.setFullYear(2020); JSON.stringify([revived.getFullYear(), revived.getMonth(), revived.getDate(), revived.getHours()])`).String())
	assert.True(t, evalJS(t, vm, `isNaN(new Date(NaN).setHours(1))`).ToBoolean())
}

func TestPatchDateStringsFollowZone(t *testing.T) {
	vm := runPatch(t, testParams())

	assert.Equal(t, "Thu Jan 01 1970 09:00:00 GMT+0900 (Japan Standard Time)", evalJS(t, vm, `new Date(0).toString()`).String())
	assert.Equal(t, "Thu Jan 01 1970", evalJS(t, vm, `new Date(0).toDateString()`).String())
	assert.Equal(t, "09:00:00 GMT+0900 (Japan Standard Time)", evalJS(t, vm, `new Date(0).toTimeString()`).String())
	assert.Equal(t, "Invalid Date", evalJS(t, vm, `new Date(NaN).toString()`).String())
}

func TestPatchDateStringsWestOfUTC(t *testing.T) {
	p := testParams()
	p.Timezone = "America/Los_Angeles"
	vm := runPatch(t, p)

	assert.EqualValues(t, 480, evalJS(t, vm, `new Date(0).getTimezoneOffset()`).ToInteger())
	assert.Equal(t, "Wed Dec 31 1969 16:00:00 GMT-0800 (America/Los_Angeles)", evalJS(t, vm, `new Date(0).toString()`).String())
}

func TestPatchLocaleFormattingUsesZone(t *testing.T) {
	vm := runPatch(t, testParams())

	assert.Equal(t, `{"locale":"ja-JP","timeZone":"Asia/Tokyo"}`, evalJS(t, vm, `new Date(0).toLocaleString()`).String())
	assert.Equal(t, `{"locale":"en-GB","timeZone":"UTC"}`, evalJS(t, vm, `new Date(0).toLocaleString('en-GB', { timeZone: 'UTC' })`).String())

	assert.Equal(t, `{"locale":"ja-JP","timeZone":"Asia/Tokyo"}`, evalJS(t, vm, `JSON.stringify(new Intl.DateTimeFormat().resolvedOptions())`).String())
	assert.Equal(t, `{"locale":"en-US","timeZone":"Asia/Tokyo"}`, evalJS(t, vm, `JSON.stringify(Intl.DateTimeFormat('en-US', {}).resolvedOptions())`).String())
	assert.Equal(t, `{"locale":"en-GB","timeZone":"Europe/London"}`, evalJS(t, vm,
		`JSON.stringify(new Intl.DateTimeFormat('en-GB', { timeZone: 'Europe/London' }).resolvedOptions())`).String())
	assert.True(t, evalJS(t, vm, `new Intl.DateTimeFormat() instanceof Intl.DateTimeFormat`).ToBoolean())
}

func TestPatchStubsHostDevices(t *testing.T) {
	vm := runPatch(t, testParams())

	evalJS(t, vm, `var battery; navigator.getBattery().then(function (b) { battery = b; });`)
	assert.EqualValues(t, 1, evalJS(t, vm, `battery.level`).ToInteger())
	assert.True(t, evalJS(t, vm, `battery.charging && battery.dischargingTime === Infinity`).ToBoolean())

	evalJS(t, vm, `var devices; navigator.mediaDevices.enumerateDevices().then(function (d) { devices = d; });`)
	assert.Equal(t, `["audioinput","videoinput","audiooutput"]`, evalJS(t, vm, `JSON.stringify(devices.map(function (d) { return d.kind; }))`).String())
	assert.True(t, evalJS(t, vm, `devices.every(function (d) { return d.label === '' && d.deviceId === ''; })`).ToBoolean())

	evalJS(t, vm, `
var notifications, geolocation;
var permissions = new Permissions();
permissions.query({ name: 'notifications' }).then(function (r) { notifications = r; });
permissions.query({ name: 'geolocation' }).then(function (r) { geolocation = r; });
`)
	assert.Equal(t, "denied", evalJS(t, vm, `notifications.state`).String())
	assert.Equal(t, "granted", evalJS(t, vm, `geolocation.state`).String())
}

func TestPatchScreen(t *testing.T) {
	vm := runPatch(t, testParams())

	assert.EqualValues(t, 2560, evalJS(t, vm, `screen.width`).ToInteger())
	assert.EqualValues(t, 1440, evalJS(t, vm, `screen.height`).ToInteger())
	assert.EqualValues(t, 1400, evalJS(t, vm, `screen.availHeight`).ToInteger())
	assert.EqualValues(t, 24, evalJS(t, vm, `screen.pixelDepth`).ToInteger())
	assert.EqualValues(t, 1, evalJS(t, vm, `devicePixelRatio`).ToInteger())
	assert.EqualValues(t, 2560, evalJS(t, vm, `outerWidth`).ToInteger())
}

func TestPatchClientHintsMatchUserAgent(t *testing.T) {
	vm := runPatch(t, testParams())

	assert.Equal(t, "Windows", evalJS(t, vm, `navigator.userAgentData.platform`).String())
	assert.Equal(t, "Chromium", evalJS(t, vm, `navigator.userAgentData.brands[1].brand`).String())
	assert.Equal(t, "124", evalJS(t, vm, `navigator.userAgentData.brands[1].version`).String())

	evalJS(t, vm, `var high; navigator.userAgentData.getHighEntropyValues(['platformVersion', 'uaFullVersion', 'bogus']).then(function (v) { high = v; });`)
	var high map[string]any
	require.NoError(t, json.Unmarshal([]byte(evalJS(t, vm, `JSON.stringify(high)`).String()), &high))
	assert.Equal(t, "10.0.0", high["platformVersion"])
	assert.Equal(t, "124.0.0.0", high["uaFullVersion"])
	assert.Equal(t, "Windows", high["platform"])
	assert.NotContains(t, high, "bogus")
}

func TestPatchHidesClientHintsForNonChromium(t *testing.T) {
	p := testParams()
	p.ClientHints = models.ClientHints{Platform: "Windows"}
	vm := runPatch(t, p)

	assert.Equal(t, "undefined", evalJS(t, vm, `typeof navigator.userAgentData`).String())
}

func TestPatchSuppressesRevealingICECandidates(t *testing.T) {
	vm := runPatch(t, testParams())

	evalJS(t, vm, `
var pc = new RTCPeerConnection();
var got = [];
var onCandidate = function (e) { got.push(e.candidate.candidate); };
pc.addEventListener('icecandidate', onCandidate);
pc.emit('candidate:1 1 udp 2122260223 192.168.1.5 54321 typ host generation 0');
pc.emit('candidate:2 1 udp 1686052607 203.0.113.9 54321 typ srflx raddr 0.0.0.0 rport 0');
pc.emit('candidate:3 1 udp 41885439 198.51.100.7 3478 typ relay raddr 203.0.113.9 rport 54321');
`)
	assert.EqualValues(t, 1, evalJS(t, vm, `got.length`).ToInteger())
	assert.Contains(t, evalJS(t, vm, `got[0]`).String(), "typ relay")

	evalJS(t, vm, `pc.removeEventListener('icecandidate', onCandidate); pc.emit('candidate:4 1 udp 1 198.51.100.8 3478 typ relay');`)
	assert.EqualValues(t, 1, evalJS(t, vm, `got.length`).ToInteger())
}

func TestPatchCanvasNoiseMatchesGo(t *testing.T) {
	p := testParams()
	vm := runPatch(t, p)

	// []byte marshals as base64, so send the values as a plain array
	pixels := flatPixels(4000)
	ints := make([]int, len(pixels))
	for i, b := range pixels {
		ints[i] = int(b)
	}
	input, err := json.Marshal(ints)
	require.NoError(t, err)

	read := `JSON.stringify(Array.from(new CanvasRenderingContext2D(` + string(input) + `).getImageData(0, 0, 100, 40).data))`
	var first, second []int
	require.NoError(t, json.Unmarshal([]byte(evalJS(t, vm, read).String()), &first))
	require.NoError(t, json.Unmarshal([]byte(evalJS(t, vm, read).String()), &second))

	// reseeded per read
	assert.Equal(t, first, second)

	expected := flatPixels(4000)
	n := PerturbPixels(expected, p.CanvasSeed, 0.1, p.CanvasMaxDelta)
	assert.Greater(t, n, 0)
	require.Len(t, first, len(expected))
	for i := range expected {
		require.Equal(t, int(expected[i]), first[i], "pixel byte %d", i)
	}
}

func TestPatchAudioNoiseMatchesGo(t *testing.T) {
	p := testParams()
	vm := runPatch(t, p)

	evalJS(t, vm, `
var samples = new Float32Array(1000);
for (var i = 0; i < samples.length; i++) samples[i] = Math.sin(i / 10) * 0.5;
var buffer = new AudioBuffer(samples);
buffer.getChannelData(0);
`)
	// a second read of the same buffer is not perturbed again
	out := evalJS(t, vm, `JSON.stringify(Array.from(buffer.getChannelData(0)))`).String()
	var got []float64
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	expected := make([]float32, 1000)
	for i := range expected {
		expected[i] = float32(math.Sin(float64(i)/10) * 0.5)
	}
	clean := append([]float32(nil), expected...)
	PerturbSamples(expected, p.AudioSeed, p.AudioNoiseLevel, 100)

	require.Len(t, got, len(expected))
	changed := 0
	for i := range expected {
		require.Equal(t, float64(expected[i]), got[i], "sample %d", i)
		if expected[i] != clean[i] {
			changed++
			assert.Zero(t, i%100)
		}
	}
	assert.Greater(t, changed, 0)
}
