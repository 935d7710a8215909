package config

import "testing"

func TestListenerSettingsFrom_Defaults(t *testing.T) {
	s := ListenerSettingsFrom(nil)
	if s.TCPPort != 514 || s.UDPPort != 514 {
		t.Errorf("ports: %d/%d", s.TCPPort, s.UDPPort)
	}
	if !s.TCPEnabled || !s.UDPEnabled {
		t.Error("both protocols should default to enabled")
	}
}

func TestListenerSettingsFrom_Coercion(t *testing.T) {
	s := ListenerSettingsFrom(map[string]string{
		SettingTCPPort:    " 6514 ",
		SettingUDPPort:    "1514",
		SettingTCPEnabled: "0",
		SettingUDPEnabled: "Yes",
	})
	if s.TCPPort != 6514 || s.UDPPort != 1514 {
		t.Errorf("ports: %d/%d", s.TCPPort, s.UDPPort)
	}
	if s.TCPEnabled {
		t.Error("tcp should be disabled by \"0\"")
	}
	if !s.UDPEnabled {
		t.Error("udp should be enabled by \"Yes\"")
	}
}

func TestListenerSettingsFrom_MalformedValuesKeepDefaults(t *testing.T) {
	s := ListenerSettingsFrom(map[string]string{
		SettingTCPPort:    "not-a-port",
		SettingUDPPort:    "99999",
		SettingTCPEnabled: "maybe",
	})
	if s.TCPPort != 514 {
		t.Errorf("tcp port: got %d want default 514", s.TCPPort)
	}
	if s.UDPPort != 514 {
		t.Errorf("udp port: got %d want default 514 (out of range)", s.UDPPort)
	}
	if !s.TCPEnabled {
		t.Error("unparseable enable flag should keep the default")
	}
}

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	defaults := Defaults()
	if cfg.DatabasePath != defaults.DatabasePath {
		t.Errorf("database path: got %q", cfg.DatabasePath)
	}
	if cfg.HTTPAddr != defaults.HTTPAddr {
		t.Errorf("http addr: got %q", cfg.HTTPAddr)
	}
}
