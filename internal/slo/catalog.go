package slo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// CatalogKind is the only kind a catalog file may declare
const CatalogKind = "ServiceCatalog"

// CatalogAPIVersion is the supported catalog format version
const CatalogAPIVersion = "errorbudget/v1"

// Catalog is one service with its SLOs as declared in a YAML file
type Catalog struct {
	APIVersion string         `yaml:"apiVersion" json:"apiVersion"`
	Kind       string         `yaml:"kind" json:"kind"`
	Service    CatalogService `yaml:"service" json:"service"`
	SLOs       []CatalogSLO   `yaml:"slos" json:"slos"`
}

// CatalogService declares a service
type CatalogService struct {
	Name        string `yaml:"name" json:"name"`
	OwnerTeam   string `yaml:"ownerTeam,omitempty" json:"ownerTeam,omitempty"`
	Environment string `yaml:"environment" json:"environment"`
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// CatalogSLO declares an SLO of the enclosing service
type CatalogSLO struct {
	Name              string  `yaml:"name" json:"name"`
	Description       string  `yaml:"description,omitempty" json:"description,omitempty"`
	SLIType           string  `yaml:"sliType" json:"sliType"`
	Target            float64 `yaml:"target" json:"target"`
	Window            string  `yaml:"window" json:"window"`
	LatencyThreshold  float64 `yaml:"latencyThreshold,omitempty" json:"latencyThreshold,omitempty"`
	FastBurnThreshold float64 `yaml:"fastBurnThreshold,omitempty" json:"fastBurnThreshold,omitempty"`
	SlowBurnThreshold float64 `yaml:"slowBurnThreshold,omitempty" json:"slowBurnThreshold,omitempty"`
	HardBudgetPolicy  bool    `yaml:"hardBudgetPolicy,omitempty" json:"hardBudgetPolicy,omitempty"`
	GoodQuery         string  `yaml:"goodQuery,omitempty" json:"goodQuery,omitempty"`
	TotalQuery        string  `yaml:"totalQuery,omitempty" json:"totalQuery,omitempty"`
}

// CatalogFile pairs a catalog with its source file path
type CatalogFile struct {
	Catalog *Catalog
	File    string
}

// ValidationError represents a validation error for a specific file
type ValidationError struct {
	File    string
	Path    string
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.File + ": " + e.Path + ": " + e.Message
	}
	return e.File + ": " + e.Message
}

// ToService converts the declared service into a registry Service
func (c *Catalog) ToService() Service {
	return Service{
		Name:        c.Service.Name,
		OwnerTeam:   c.Service.OwnerTeam,
		Environment: Environment(c.Service.Environment),
		Version:     c.Service.Version,
		Description: c.Service.Description,
	}
}

// ToSLO converts a declared SLO into a registry SLO owned by serviceID
func (cs CatalogSLO) ToSLO(serviceID int64) (SLO, error) {
	window, err := ParseDuration(cs.Window)
	if err != nil {
		return SLO{}, err
	}
	if window < 24*time.Hour || window%(24*time.Hour) != 0 {
		return SLO{}, fmt.Errorf("window must be a whole number of days: %s", cs.Window)
	}

	s := SLO{
		ServiceID:         serviceID,
		Name:              cs.Name,
		Description:       cs.Description,
		SLIType:           SLIType(cs.SLIType),
		Target:            cs.Target,
		TimeWindowDays:    int(window / (24 * time.Hour)),
		LatencyThreshold:  cs.LatencyThreshold,
		GoodQuery:         cs.GoodQuery,
		TotalQuery:        cs.TotalQuery,
		FastBurnThreshold: cs.FastBurnThreshold,
		SlowBurnThreshold: cs.SlowBurnThreshold,
		HardBudgetPolicy:  cs.HardBudgetPolicy,
	}
	s.ApplyDefaults()
	return s, nil
}

// LoadFromDirectory discovers and parses all catalog files in a directory
func LoadFromDirectory(dirPath string) ([]CatalogFile, []ValidationError) {
	var catalogs []CatalogFile
	var errors []ValidationError

	files, err := discoverYAMLFiles(dirPath)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    dirPath,
			Message: fmt.Sprintf("failed to read directory: %v", err),
		})
		return nil, errors
	}

	for _, file := range files {
		catalog, err := parseYAMLFile(file)
		if err != nil {
			errors = append(errors, ValidationError{
				File:    file,
				Message: fmt.Sprintf("failed to parse YAML: %v", err),
			})
			continue
		}
		catalogs = append(catalogs, CatalogFile{
			Catalog: catalog,
			File:    file,
		})
	}

	return catalogs, errors
}

// discoverYAMLFiles finds all *.yaml and *.yml files in a directory, sorted by path
func discoverYAMLFiles(dirPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	sort.Strings(files)
	return files, err
}

func parseYAMLFile(filePath string) (*Catalog, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}

	return &catalog, nil
}
