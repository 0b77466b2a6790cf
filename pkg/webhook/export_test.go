package webhook

var SignAt = signAt
