// Copyright 2024 JVMTools. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package classfile

// New builds an empty class file node for the given name and super class.
// The class file version defaults to 52.0 (Java 8).
func New(access uint16, name, super string) (*ClassFile, error) {
	cf := &ClassFile{
		Major:  52,
		Pool:   &ConstPool{Entries: make([]Entry, 1)},
		Access: access,
	}
	var err error
	if cf.ThisClass, err = cf.Pool.AddClass(name); err != nil {
		return nil, err
	}
	if super != "" {
		if cf.SuperClass, err = cf.Pool.AddClass(super); err != nil {
			return nil, err
		}
	}
	return cf, nil
}

// AddInterface appends an implemented interface.
func (cf *ClassFile) AddInterface(name string) error {
	idx, err := cf.Pool.AddClass(name)
	if err != nil {
		return err
	}
	cf.Interfaces = append(cf.Interfaces, idx)
	return nil
}

// AddField appends a field declaration and returns it.
func (cf *ClassFile) AddField(access uint16, name, desc string) (*Member, error) {
	m, err := cf.newMember(access, name, desc)
	if err != nil {
		return nil, err
	}
	cf.Fields = append(cf.Fields, m)
	return &cf.Fields[len(cf.Fields)-1], nil
}

// AddMethod appends a method declaration and returns it.
func (cf *ClassFile) AddMethod(access uint16, name, desc string) (*Member, error) {
	m, err := cf.newMember(access, name, desc)
	if err != nil {
		return nil, err
	}
	cf.Methods = append(cf.Methods, m)
	return &cf.Methods[len(cf.Methods)-1], nil
}

func (cf *ClassFile) newMember(access uint16, name, desc string) (Member, error) {
	nameIdx, err := cf.Pool.AddUtf8(name)
	if err != nil {
		return Member{}, err
	}
	descIdx, err := cf.Pool.AddUtf8(desc)
	if err != nil {
		return Member{}, err
	}
	return Member{Access: access, NameIndex: nameIdx, DescIndex: descIdx}, nil
}
