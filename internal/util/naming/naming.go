// Package naming provides consistent naming for stack resources.
//
// All resources follow the pattern {stack}-{type} so a stack's footprint is
// identifiable from the console and cleanable by tag or name.
package naming

import "fmt"

func Network(stack string) string {
	return fmt.Sprintf("%s-vpc", stack)
}

func Subnet(stack string, index int) string {
	return fmt.Sprintf("%s-subnet-%d", stack, index)
}

func SecurityGroup(stack string) string {
	return fmt.Sprintf("%s-app", stack)
}

func Filesystem(stack string) string {
	return fmt.Sprintf("%s-data", stack)
}

func MountTarget(stack string, index int) string {
	return fmt.Sprintf("%s-mt-%d", stack, index)
}

func Role(stack string) string {
	return fmt.Sprintf("%s-instance-role", stack)
}

func InstanceProfile(stack string) string {
	return fmt.Sprintf("%s-instance-profile", stack)
}

func KeyPair(stack string) string {
	return fmt.Sprintf("%s-keypair", stack)
}

func Instance(stack string, index int) string {
	return fmt.Sprintf("%s-node-%d", stack, index)
}

func LoadBalancer(stack string) string {
	return fmt.Sprintf("%s-alb", stack)
}

func TargetGroup(stack string) string {
	return fmt.Sprintf("%s-tg", stack)
}
