package configuration

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config verwaltet die Anwendungskonfiguration nach Sektionen
type Config struct {
	settings map[string]map[string]string
	filePath string
	mu       sync.RWMutex
}

var (
	globalConfig *Config
	once         sync.Once
)

// sectionOrder ist die Reihenfolge der Sektionen in der Datei
var sectionOrder = []string{"Server", "TLS", "Interpreter", "Game", "Database", "JWT", "Authentication", "Network", "Debug"}

// Initialize initialisiert die globale Konfiguration. Fehlt die Datei, wird
// sie mit Standardwerten angelegt. settings.local.cfg überschreibt einzelne Werte.
func Initialize(configPath string) error {
	var err error
	once.Do(func() {
		globalConfig, err = loadConfig(configPath)
		if err != nil {
			return
		}
		localPath := filepath.Join(filepath.Dir(configPath), "settings.local.cfg")
		if _, statErr := os.Stat(localPath); statErr == nil {
			// Fehlerhafte lokale Datei verhindert den Start nicht
			_ = globalConfig.loadFile(localPath)
		}
	})
	return err
}

// loadConfig lädt die Konfiguration oder schreibt eine Standarddatei
func loadConfig(filePath string) (*Config, error) {
	config := &Config{
		settings: make(map[string]map[string]string),
		filePath: filePath,
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		config.createDefaultConfig()
		if err := config.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return config, nil
	}

	// Erst Standardwerte, damit fehlende Schlüssel älterer Dateien aufgelöst werden
	config.createDefaultConfig()
	if err := config.loadFile(filePath); err != nil {
		return nil, err
	}
	return config, nil
}

// loadFile überlagert die aktuellen Werte mit denen einer Datei
func (c *Config) loadFile(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parse(file)
}

// parse liest INI-Zeilen (Lock muss gehalten werden)
func (c *Config) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	currentSection := ""

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = line[1 : len(line)-1]
			if c.settings[currentSection] == nil {
				c.settings[currentSection] = make(map[string]string)
			}
			continue
		}

		if currentSection == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		c.settings[currentSection][strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return scanner.Err()
}

// createDefaultConfig setzt alle Parameter, die der Server liest
func (c *Config) createDefaultConfig() {
	c.settings["Server"] = map[string]string{
		"http_port":  "8080",
		"static_dir": "static",
	}

	c.settings["TLS"] = map[string]string{
		"enable_tls":           "false",
		"enable_letsencrypt":   "false",
		"domain":               "",
		"letsencrypt_email":    "",
		"cert_cache_dir":       "certs",
		"cert_file":            "",
		"key_file":             "",
		"https_port":           "8443",
		"force_https_redirect": "true",
		"generate_self_signed": "false",
	}

	c.settings["Interpreter"] = map[string]string{
		"execution_speed":         "500ms",
		"max_code_length":         "20000",
		"max_expansions_per_step": "10000",
		"tab_width":               "4",
	}

	c.settings["Game"] = map[string]string{
		"grid_width":    "12",
		"grid_height":   "8",
		"max_level":     "3",
		"start_x":       "1",
		"start_y":       "6",
		"levels_dir":    "levels",
		"advance_delay": "2s",
	}

	c.settings["Database"] = map[string]string{
		"path": "crisisroom.db",
	}

	c.settings["JWT"] = map[string]string{
		"token_expiration_hours": "24",
	}

	c.settings["Authentication"] = map[string]string{
		"min_username_length": "3",
		"max_username_length": "20",
		"min_password_length": "6",
		"max_password_length": "100",
		"password_hash_cost":  "12",
	}

	c.settings["Network"] = map[string]string{
		"write_wait_timeout":          "10s",
		"pong_timeout":                "60s",
		"max_message_size_kb":         "64",
		"max_channel_buffer":          "256",
		"max_clients":                 "100",
		"allowed_origins":             "",
		"max_messages_per_minute":     "300",
		"max_bandwidth_kb_per_minute": "1024",
		"idle_timeout":                "30m",
	}

	c.settings["Debug"] = map[string]string{
		"enable_debug_logging": "true",
		"log_level":            "INFO",
		"log_file":             "debug.log",
		"max_log_size_mb":      "10",
		"log_rotation_count":   "3",
		"log_interpreter":      "false",
		"log_grid":             "false",
		"log_levels":           "true",
		"log_room":             "true",
		"log_websocket":        "false",
		"log_auth":             "true",
		"log_database":         "false",
		"log_session":          "false",
		"log_config":           "true",
		"log_security":         "true",
		"log_general":          "true",
	}
}

// saveToFile schreibt die Konfiguration, Sektionen in fester Reihenfolge, Schlüssel sortiert
func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.Create(c.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	fmt.Fprint(w, "; Crisis Room configuration\n; Generated automatically - modify with care\n;\n\n")

	for _, section := range sectionOrder {
		settings, exists := c.settings[section]
		if !exists {
			continue
		}
		keys := make([]string, 0, len(settings))
		for key := range settings {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(w, "[%s]\n", section)
		for _, key := range keys {
			fmt.Fprintf(w, "%s = %s\n", key, settings[key])
		}
		fmt.Fprint(w, "\n")
	}
	return w.Flush()
}

// GetString gibt einen String-Wert oder den Standardwert zurück
func GetString(section, key, defaultValue string) string {
	if globalConfig == nil {
		return defaultValue
	}

	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()

	if sectionMap, exists := globalConfig.settings[section]; exists {
		if value, exists := sectionMap[key]; exists {
			return value
		}
	}
	return defaultValue
}

// GetInt gibt einen Integer-Wert oder den Standardwert zurück
func GetInt(section, key string, defaultValue int) int {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(str); err == nil {
		return value
	}
	return defaultValue
}

// GetBool gibt einen Boolean-Wert oder den Standardwert zurück
func GetBool(section, key string, defaultValue bool) bool {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(str); err == nil {
		return value
	}
	return defaultValue
}

// GetDuration gibt eine Dauer oder den Standardwert zurück
func GetDuration(section, key string, defaultValue time.Duration) time.Duration {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(str); err == nil {
		return value
	}
	return defaultValue
}

// GetSection gibt eine Kopie aller Schlüssel-Wert-Paare einer Sektion zurück
func GetSection(sectionName string) map[string]string {
	result := make(map[string]string)
	if globalConfig == nil {
		return result
	}

	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()

	for key, value := range globalConfig.settings[sectionName] {
		result[key] = value
	}
	return result
}

// SetString überschreibt einen Wert nur im Speicher
func SetString(section, key, value string) {
	if globalConfig == nil {
		return
	}

	globalConfig.mu.Lock()
	defer globalConfig.mu.Unlock()

	if globalConfig.settings[section] == nil {
		globalConfig.settings[section] = make(map[string]string)
	}
	globalConfig.settings[section][key] = value
}
