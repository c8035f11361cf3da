package plan

import (
	"sort"

	"github.com/ldvinh/stackup/internal/core/stack"
)

// =============================================================================
// Service Ordering
// =============================================================================

// StartOrder sorts services so every service comes after all of its
// depends_on targets, using Kahn's algorithm. Ties are broken by
// service name so the order is deterministic.
//
// Cycles are rejected at parse time; if one slips through, the
// remaining services are appended in name order as a fallback.
func StartOrder(services []stack.Service) []stack.Service {
	if len(services) == 0 {
		return services
	}

	serviceMap := make(map[string]stack.Service, len(services))
	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep.Service] = append(dependents[dep.Service], svc.Name)
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var result []stack.Service
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if svc, ok := serviceMap[name]; ok {
			result = append(result, svc)
		}

		var released []string
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
	}

	if len(result) < len(services) {
		placed := make(map[string]bool, len(result))
		for _, svc := range result {
			placed[svc.Name] = true
		}
		var remaining []string
		for _, svc := range services {
			if !placed[svc.Name] {
				remaining = append(remaining, svc.Name)
			}
		}
		sort.Strings(remaining)
		for _, name := range remaining {
			result = append(result, serviceMap[name])
		}
	}

	return result
}

// StopOrder is the reverse of StartOrder: dependents stop before the
// services they depend on.
func StopOrder(services []stack.Service) []stack.Service {
	ordered := StartOrder(services)
	reversed := make([]stack.Service, len(ordered))
	for i, svc := range ordered {
		reversed[len(ordered)-1-i] = svc
	}
	return reversed
}
