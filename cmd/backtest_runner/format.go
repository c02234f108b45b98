package main

import "strconv"

func format2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func format4(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
