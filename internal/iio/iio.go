// Package iio reads Linux Industrial I/O ADC channels from sysfs.
package iio

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is where the kernel exposes IIO devices.
const DefaultRoot = "/sys/bus/iio/devices"

// Channel is one voltage input, scaled from raw counts to millivolts and then by
// an integer ratio (external divider or shunt) and bias.
type Channel struct {
	RawPath   string
	ScalePath string
	Num       int
	Den       int
	BiasMV    int
}

// NewChannel returns the channel in_voltage<index> of iio:device<device>.
func NewChannel(root string, device, index int) Channel {
	if root == "" {
		root = DefaultRoot
	}
	dir := filepath.Join(root, fmt.Sprintf("iio:device%d", device))
	return Channel{
		RawPath:   filepath.Join(dir, fmt.Sprintf("in_voltage%d_raw", index)),
		ScalePath: filepath.Join(dir, "in_voltage_scale"),
		Num:       1,
		Den:       1,
	}
}

// ReadMillivolts returns the scaled channel value in millivolts.
func (c Channel) ReadMillivolts() (int, error) {
	raw, err := readInt(c.RawPath)
	if err != nil {
		return 0, fmt.Errorf("read raw: %w", err)
	}

	scale := 1.0
	if c.ScalePath != "" {
		scale, err = readFloat(c.ScalePath)
		if err != nil {
			return 0, fmt.Errorf("read scale: %w", err)
		}
	}

	num, den := c.Num, c.Den
	if num == 0 {
		num = 1
	}
	if den == 0 {
		den = 1
	}

	mv := int(float64(raw) * scale)
	return mv*num/den - c.BiasMV, nil
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
