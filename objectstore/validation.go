package objectstore

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

const (
	bucketNameRegexStr = "^[a-z0-9][a-z0-9\\.\\-]{1,61}[a-z0-9]$"
)

var (
	bucketNameRegex = regexp.MustCompile(bucketNameRegexStr)
)

// ValidBucketName returns an error if the name is not an acceptable S3 bucket name
func ValidBucketName(name string) error {
	if !bucketNameRegex.MatchString(name) {
		return fmt.Errorf("Bucket name %s does not match %s", name, bucketNameRegexStr)
	}

	if strings.Contains(name, "..") {
		return fmt.Errorf("Bucket name %s must not contain consecutive periods", name)
	}

	if net.ParseIP(name) != nil {
		return fmt.Errorf("Bucket name %s must not be formatted as an IP address", name)
	}

	return nil
}
