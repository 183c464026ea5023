package incidents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-fleetsim/internal/models"
	"github.com/miradorstack/mirador-fleetsim/internal/utils"
)

type scenarioFile struct {
	Scenarios []models.IncidentScenario `yaml:"scenarios"`
}

// LoadScenarios reads extra scenarios from a YAML file of the form
// `scenarios: [...]`. Validation happens when they are added to a Catalog.
func LoadScenarios(path string) ([]models.IncidentScenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.NewPathError("load scenarios", path, "read file", err)
	}
	var doc scenarioFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, utils.NewPathError("load scenarios", path, "parse yaml", err)
	}
	if len(doc.Scenarios) == 0 {
		return nil, fmt.Errorf("load scenarios %s: no scenarios defined", path)
	}
	return doc.Scenarios, nil
}
