package spoof

// Functions the patch program installs, by the key it cloaks them under.
// A replaced function reports the banner of the native it stands in for.
var (
	patchedMethods = []string{
		"toString",
		"getParameter",
		"getImageData",
		"toDataURL",
		"toBlob",
		"getChannelData",
		"getFloatFrequencyData",
		"addEventListener",
		"removeEventListener",
		"getHighEntropyValues",
		"toJSON",
		"getTimezoneOffset",
		"getFullYear",
		"getMonth",
		"getDate",
		"getDay",
		"getHours",
		"getMinutes",
		"getSeconds",
		"setFullYear",
		"setMonth",
		"setDate",
		"setHours",
		"setMinutes",
		"setSeconds",
		"toDateString",
		"toTimeString",
		"toLocaleString",
		"toLocaleDateString",
		"toLocaleTimeString",
		"DateTimeFormat",
		"getBattery",
		"enumerateDevices",
		"query",
	}

	patchedGetters = []string{
		// navigator
		"hardwareConcurrency",
		"deviceMemory",
		"platform",
		"languages",
		"language",
		"vendor",
		"userAgent",
		"appVersion",
		"maxTouchPoints",
		"webdriver",
		"userAgentData",
		"brands",
		"mobile",
		// screen and window
		"width",
		"height",
		"availWidth",
		"availHeight",
		"availLeft",
		"availTop",
		"colorDepth",
		"pixelDepth",
		"devicePixelRatio",
		"outerWidth",
		"outerHeight",
		// RTCPeerConnection
		"onicecandidate",
		"localDescription",
		"currentLocalDescription",
		"pendingLocalDescription",
	}

	patchedSetters = []string{
		"onicecandidate",
	}
)

// Global names that automation frameworks leave behind
var automationMarkers = []string{
	"__webdriver_evaluate",
	"__selenium_evaluate",
	"__webdriver_script_function",
	"__webdriver_script_func",
	"__webdriver_script_fn",
	"__fxdriver_evaluate",
	"__driver_unwrapped",
	"__webdriver_unwrapped",
	"__driver_evaluate",
	"__selenium_unwrapped",
	"__fxdriver_unwrapped",
	"__webdriverFunc",
	"__$webdriverAsyncExecutor",
	"__lastWatirAlert",
	"__lastWatirConfirm",
	"__lastWatirPrompt",
	"_Selenium_IDE_Recorder",
	"_selenium",
	"calledSelenium",
	"_WEBDRIVER_ELEM_CACHE",
	"$chrome_asyncScriptInfo",
	"callPhantom",
	"_phantom",
	"phantom",
	"__nightmare",
	"domAutomation",
	"domAutomationController",
	"__playwright__binding__",
	"__pwInitScripts",
	"__puppeteer_evaluation_script__",
}

// NativeBanners maps each cloak key to the source text a native function of that name reports
func NativeBanners() map[string]string {
	out := make(map[string]string, len(patchedMethods)+len(patchedGetters)+len(patchedSetters))
	for _, name := range patchedMethods {
		out[name] = banner(name)
	}
	for _, name := range patchedGetters {
		out["get "+name] = banner("get " + name)
	}
	for _, name := range patchedSetters {
		out["set "+name] = banner("set " + name)
	}
	return out
}

// AutomationMarkers lists the automation globals the patch program removes
func AutomationMarkers() []string {
	return append([]string(nil), automationMarkers...)
}

func banner(name string) string {
	return "function " + name + "() { [native code] }"
}
