package policyconf

import "os"

// insecureDir reports whether the directory is writable by group or world.
// Rules in such a directory cannot be trusted as admin policy.
func insecureDir(dir string) (bool, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return true, nil
	}
	return info.Mode().Perm()&0o022 != 0, nil
}
