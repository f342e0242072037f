package reindex

import "strings"

// AllApps is the --apps sentinel that selects every configured target.
const AllApps = "all"

// SelectTargets filters configured by the comma-separated allow-list apps,
// keeping configured order. It also returns the requested names that match no
// configured application.
func SelectTargets(configured []Target, apps string) (selected []Target, unknown []string) {
	if apps == AllApps {
		return append([]Target(nil), configured...), nil
	}
	wanted := make(map[string]bool)
	var order []string
	for _, name := range strings.Split(apps, ",") {
		name = strings.TrimSpace(name)
		if name == "" || wanted[name] {
			continue
		}
		wanted[name] = true
		order = append(order, name)
	}
	known := make(map[string]bool, len(configured))
	for _, t := range configured {
		known[t.App] = true
		if wanted[t.App] {
			selected = append(selected, t)
		}
	}
	for _, name := range order {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return selected, unknown
}
