package spoof

import (
	"time"
	_ "time/tzdata"
)

// Standard-time offsets in minutes ahead of UTC. The runtime offset a page sees is the negation.
var timezoneOffsets = map[string]int{
	"UTC":                            0,
	"Etc/UTC":                        0,
	"Europe/London":                  0,
	"Europe/Dublin":                  0,
	"Europe/Lisbon":                  0,
	"Africa/Lagos":                   60,
	"Europe/Amsterdam":               60,
	"Europe/Berlin":                  60,
	"Europe/Brussels":                60,
	"Europe/Madrid":                  60,
	"Europe/Paris":                   60,
	"Europe/Prague":                  60,
	"Europe/Rome":                    60,
	"Europe/Stockholm":               60,
	"Europe/Vienna":                  60,
	"Europe/Warsaw":                  60,
	"Europe/Zurich":                  60,
	"Africa/Cairo":                   120,
	"Africa/Johannesburg":            120,
	"Europe/Athens":                  120,
	"Europe/Helsinki":                120,
	"Europe/Kiev":                    120,
	"Europe/Kyiv":                    120,
	"Africa/Nairobi":                 180,
	"Europe/Istanbul":                180,
	"Europe/Moscow":                  180,
	"Asia/Dubai":                     240,
	"Asia/Karachi":                   300,
	"Asia/Kolkata":                   330,
	"Asia/Dhaka":                     360,
	"Asia/Bangkok":                   420,
	"Asia/Jakarta":                   420,
	"Asia/Hong_Kong":                 480,
	"Asia/Shanghai":                  480,
	"Asia/Singapore":                 480,
	"Asia/Taipei":                    480,
	"Australia/Perth":                480,
	"Asia/Seoul":                     540,
	"Asia/Tokyo":                     540,
	"Australia/Adelaide":             570,
	"Australia/Brisbane":             600,
	"Australia/Melbourne":            600,
	"Australia/Sydney":               600,
	"Pacific/Auckland":               720,
	"America/Sao_Paulo":              -180,
	"America/Argentina/Buenos_Aires": -180,
	"America/St_Johns":               -210,
	"America/Halifax":                -240,
	"America/Santiago":               -240,
	"America/Bogota":                 -300,
	"America/Lima":                   -300,
	"America/New_York":               -300,
	"America/Toronto":                -300,
	"America/Chicago":                -360,
	"America/Mexico_City":            -360,
	"America/Denver":                 -420,
	"America/Phoenix":                -420,
	"America/Los_Angeles":            -480,
	"America/Vancouver":              -480,
	"America/Anchorage":              -540,
	"Pacific/Honolulu":               -600,
}

// MinutesAhead returns how many minutes a zone is ahead of UTC in standard time.
// Zones missing from the table are looked up in the tz database.
func MinutesAhead(zone string) (int, bool) {
	if v, ok := timezoneOffsets[zone]; ok {
		return v, true
	}
	loc, err := time.LoadLocation(zone)
	if err != nil || zone == "" || zone == "Local" {
		return 0, false
	}
	// daylight saving only ever adds, so the smaller of a winter and a summer offset is standard time
	_, jan := time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC).In(loc).Zone()
	_, jul := time.Date(2024, time.July, 15, 12, 0, 0, 0, time.UTC).In(loc).Zone()
	return min(jan, jul) / 60, true
}

// RuntimeOffset is what Date.prototype.getTimezoneOffset reports for a zone
func RuntimeOffset(zone string) (int, bool) {
	ahead, ok := MinutesAhead(zone)
	if !ok {
		return 0, false
	}
	return -ahead, true
}

// offsetTable is the table emitted into a patch program, extended with the projected zone if needed
func offsetTable(zone string) map[string]int {
	out := make(map[string]int, len(timezoneOffsets)+1)
	for k, v := range timezoneOffsets {
		out[k] = v
	}
	if _, ok := out[zone]; !ok {
		if ahead, ok := MinutesAhead(zone); ok {
			out[zone] = ahead
		}
	}
	return out
}
