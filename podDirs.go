package pods

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/i5heu/ouroboros-pods/pkg/types"
)

// ListPods returns the names of the pods stored below root.
func ListPods(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error listing pods: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// RenamePod renames a closed pod. It fails with ErrPodExists when newName is
// taken.
func RenamePod(root, oldName, newName string) error {
	dst := podDir(root, newName)
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("pod %s: %w", newName, types.ErrPodExists)
	}
	if _, err := os.Stat(podDir(root, oldName)); err != nil {
		return fmt.Errorf("pod %s: %w", oldName, types.ErrNotFound)
	}
	if err := os.Rename(podDir(root, oldName), dst); err != nil {
		return fmt.Errorf("error renaming pod: %w", err)
	}
	return nil
}
