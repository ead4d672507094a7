package cuebridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// DefaultSettingsFile is looked up in the working directory when no file is named
const DefaultSettingsFile = "daw2server_settingsConfiguration.ini"

// Settings is the immutable configuration of one bridge run
type Settings struct {
	Platform string

	BridgeName   string // preferred MIDI input device
	TriggerTable string // path to the trigger CSV

	DAWName          string
	AudioFrequencyHz float64
	BufferSamples    float64

	ServerName        string // selects the auth profile
	Autodiscover      string
	Protocol          string
	IP                string
	ControlPort       int
	Password          string
	RequestTimeout    time.Duration
	LoginTimeout      time.Duration // zero waits for the operator forever
	ConnectionRetries int

	DiagnosticMode bool

	Source string // file the settings came from
}

// DefaultSettings are used for anything the file leaves out
func DefaultSettings() Settings {
	return Settings{
		Platform:          runtime.GOOS,
		Protocol:          "http",
		AudioFrequencyHz:  48000,
		BufferSamples:     480,
		RequestTimeout:    webTimeout,
		ConnectionRetries: 10000,
	}
}

// propertySetter coerces and assigns one raw value
type propertySetter func(s *Settings, value string) error

func setString(f func(s *Settings) *string) propertySetter {
	return func(s *Settings, v string) error {
		*f(s) = v
		return nil
	}
}

func setInt(f func(s *Settings) *int) propertySetter {
	return func(s *Settings, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*f(s) = i
		return nil
	}
}

func setFloat(f func(s *Settings) *float64) propertySetter {
	return func(s *Settings, v string) error {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*f(s) = x
		return nil
	}
}

func setBool(f func(s *Settings) *bool) propertySetter {
	return func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*f(s) = b
		return nil
	}
}

// setSeconds reads a number of seconds, fractions allowed
func setSeconds(f func(s *Settings) *time.Duration) propertySetter {
	return func(s *Settings, v string) error {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		if x < 0 {
			return errors.New("negative duration")
		}
		*f(s) = time.Duration(x * float64(time.Second))
		return nil
	}
}

// properties maps lower-cased settings keys to their field.
// Keys not listed here are rejected.
var properties = map[string]propertySetter{
	"platform":                   setString(func(s *Settings) *string { return &s.Platform }),
	"midi_bridgename":            setString(func(s *Settings) *string { return &s.BridgeName }),
	"midi_httpprotocolpreset":    setString(func(s *Settings) *string { return &s.TriggerTable }),
	"daw_name":                   setString(func(s *Settings) *string { return &s.DAWName }),
	"daw_audiofreqencyhz":        setFloat(func(s *Settings) *float64 { return &s.AudioFrequencyHz }),
	"daw_interfacebuffersamples": setFloat(func(s *Settings) *float64 { return &s.BufferSamples }),
	"server_name":                setString(func(s *Settings) *string { return &s.ServerName }),
	"server_autodiscover":        setString(func(s *Settings) *string { return &s.Autodiscover }),
	"server_protocol":            setString(func(s *Settings) *string { return &s.Protocol }),
	"server_ip":                  setString(func(s *Settings) *string { return &s.IP }),
	"server_controlport":         setInt(func(s *Settings) *int { return &s.ControlPort }),
	"server_password":            setString(func(s *Settings) *string { return &s.Password }),
	"server_requesttimeout":      setSeconds(func(s *Settings) *time.Duration { return &s.RequestTimeout }),
	"server_logintimeout":        setSeconds(func(s *Settings) *time.Duration { return &s.LoginTimeout }),
	"server_connectionretries":   setInt(func(s *Settings) *int { return &s.ConnectionRetries }),
	"bridge_diagnosticmode":      setBool(func(s *Settings) *bool { return &s.DiagnosticMode }),
}

// ApplyProperties assigns raw key/values onto s.
// Problems are returned per key and never stop the rest from being assigned.
func ApplyProperties(s *Settings, kv map[string]string) []error {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		value := kv[key]
		set, ok := properties[strings.ToLower(key)]
		if !ok {
			err := &ConfigPropertyError{Key: key, Value: value, Err: errors.New("unknown property")}
			slog.Warn("Not found Property", slog.String("key", key), slog.String("value", value))
			errs = append(errs, err)
			continue
		}
		if err := set(s, value); err != nil {
			slog.Warn("Malformed Property", slog.String("key", key), slog.String("value", value), slog.Any("Error", err))
			errs = append(errs, &ConfigPropertyError{Key: key, Value: value, Err: err})
			continue
		}
		if strings.EqualFold(key, "server_password") {
			value = "********"
		}
		slog.Info("Assign Property", slog.String("key", key), slog.String("value", value))
	}
	return errs
}

// LoadSettings reads a settings stream on top of DefaultSettings.
// Keys from every section are merged, a later section wins.
// Property errors are returned alongside a usable Settings.
func LoadSettings(r io.Reader) (Settings, []error, error) {
	s := DefaultSettings()
	data, err := io.ReadAll(r)
	if err != nil {
		slog.Error("Problem reading settings", slog.Any("Error", err))
		return s, nil, fmt.Errorf("could not read settings: %w", err)
	}

	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, data)
	if err != nil {
		return s, nil, fmt.Errorf("could not parse settings: %w", err)
	}

	kv := make(map[string]string)
	for _, section := range cfg.Sections() {
		for _, key := range section.Keys() {
			kv[key.Name()] = key.Value()
		}
	}

	perrs := ApplyProperties(&s, kv)
	return s, perrs, nil
}

// LoadSettingsFileName pulls a given filename config off local disk
// Validation is performed on the file before opening.
// A relative trigger table path is resolved against the file's directory.
func LoadSettingsFileName(filename string) (Settings, []error, error) {
	file, err := os.Open(filename)
	if err != nil {
		return Settings{}, nil, err
	}
	defer file.Close()

	// validation
	if err := validateLoad(file); err != nil {
		slog.Error("Validation failed", slog.Any("Error", err))
		return Settings{}, nil, err
	}

	s, perrs, err := LoadSettings(file)
	if err != nil {
		slog.Error("could not decode file", slog.String("file", filename))
		return Settings{}, nil, err
	}

	s.Source = filename
	if s.TriggerTable != "" && !filepath.IsAbs(s.TriggerTable) {
		s.TriggerTable = filepath.Join(filepath.Dir(filename), s.TriggerTable)
	}
	return s, perrs, nil
}

func validateLoad(file *os.File) error {
	// validate file
	info, err := file.Stat()
	if err != nil {
		slog.Error("could not stat file")
		return err
	}

	// validate size
	if info.Size() == 0 {
		slog.Error("file is empty")
		return errors.New("file is empty")
	}

	return nil
}

// ServerURL is protocol://ip:port, or empty when no direct address is configured
func (s Settings) ServerURL() string {
	if s.IP == "" {
		return ""
	}
	return UrlCat(s.Protocol, "://", s.IP, ":", strconv.Itoa(s.ControlPort))
}

// Cadence is the loop period matching the DAW's audio interface cycle.
// Unusable audio parameters fall back to the defaults.
func (s Settings) Cadence() time.Duration {
	hz, samples := s.AudioFrequencyHz, s.BufferSamples
	if hz <= 0 || samples <= 0 {
		d := DefaultSettings()
		slog.Warn("DAW audio parameters unusable, using defaults",
			slog.Float64("hz", hz),
			slog.Float64("samples", samples),
			slog.Float64("default_hz", d.AudioFrequencyHz),
			slog.Float64("default_samples", d.BufferSamples))
		hz, samples = d.AudioFrequencyHz, d.BufferSamples
	}
	return CyclePeriod(hz / samples)
}

// LoopFrequency is frames per second of the DAW audio interface
func (s Settings) LoopFrequency() float64 {
	return float64(time.Second) / float64(s.Cadence())
}

func (s Settings) String() string {
	return fmt.Sprintf("server=%s url=%q autodiscover=%q daw=%s device=%q table=%q",
		s.ServerName, s.ServerURL(), s.Autodiscover, s.DAWName, s.BridgeName, s.TriggerTable)
}
