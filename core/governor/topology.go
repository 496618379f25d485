package governor

import "fmt"

// Topology describes how an inverter takes commands.
type Topology string

const (
	// Independent inverters are commanded on their own.
	Independent Topology = "independent"
	// Master inverters are commanded and relay the mode to their slaves.
	Master Topology = "master"
	// Slave inverters follow their master and never receive commands.
	Slave Topology = "slave"
)

// Inverter is one configured inverter.
type Inverter struct {
	ID       string   `json:"id"`
	Topology Topology `json:"topology"`
	Master   string   `json:"master,omitempty"`
	Slaves   []string `json:"slaves,omitempty"`
}

// DefaultInverter is used when no inverter is configured.
const DefaultInverter = "default"

// validateTopology checks master/slave references are consistent.
func validateTopology(invs []Inverter) error {
	byID := make(map[string]Inverter, len(invs))
	for _, inv := range invs {
		if inv.ID == "" {
			return fmt.Errorf("inverter id required")
		}
		if _, dup := byID[inv.ID]; dup {
			return fmt.Errorf("duplicate inverter %s", inv.ID)
		}
		byID[inv.ID] = inv
	}
	for _, inv := range invs {
		switch inv.Topology {
		case Independent, "":
		case Master:
			for _, s := range inv.Slaves {
				sl, ok := byID[s]
				if !ok || sl.Topology != Slave {
					return fmt.Errorf("master %s lists %s which is not a slave", inv.ID, s)
				}
			}
		case Slave:
			m, ok := byID[inv.Master]
			if !ok || m.Topology != Master {
				return fmt.Errorf("slave %s has no master", inv.ID)
			}
		default:
			return fmt.Errorf("inverter %s: unknown topology %q", inv.ID, inv.Topology)
		}
	}
	return nil
}
